package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("Failed to generate vault key: %v", err)
	}

	fmt.Println("=== Vault Key Generated ===")
	fmt.Println()
	fmt.Println("Add this to your environment variables:")
	fmt.Println()
	fmt.Printf("VAULT_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Println()
	fmt.Println("IMPORTANT:")
	fmt.Println("- Keep this key secret, it encrypts every tenant's stored OAuth client secret")
	fmt.Println("- On rotation, set VAULT_KEY_PREVIOUS to the old key and bump VAULT_KEY_VERSION")
}
