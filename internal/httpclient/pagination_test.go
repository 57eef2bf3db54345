package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedItem struct {
	Name string `json:"name"`
}

func TestGetAllPagesFollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			fmt.Fprintf(w, `{"value":[{"name":"a"},{"name":"b"}],"@odata.nextLink":"%s/items-page-2"}`, srv.URL)
		case "/items-page-2":
			fmt.Fprintf(w, `{"value":[{"name":"c"}],"@odata.nextLink":"%s/items-page-3"}`, srv.URL)
		case "/items-page-3":
			// Final page: zero rows and no further link must terminate
			// cleanly rather than erroring or looping.
			w.Write([]byte(`{"value":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, _ := testClient(&fakeTokens{})
	items, err := GetAllPages[pagedItem](context.Background(), c, "tenant-1", srv.URL+"/items")

	require.NoError(t, err)
	assert.Equal(t, []pagedItem{{Name: "a"}, {Name: "b"}, {Name: "c"}}, items)
}

func TestGetAllPagesSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"name":"only"}]}`))
	}))
	defer srv.Close()

	c, _ := testClient(&fakeTokens{})
	items, err := GetAllPages[pagedItem](context.Background(), c, "tenant-1", srv.URL)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "only", items[0].Name)
}

func TestGetAllPagesPropagatesMidWalkFailure(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/first" {
			fmt.Fprintf(w, `{"value":[{"name":"a"}],"@odata.nextLink":"%s/second"}`, srv.URL)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(&fakeTokens{})
	items, err := GetAllPages[pagedItem](context.Background(), c, "tenant-1", srv.URL+"/first")

	require.Error(t, err)
	assert.Nil(t, items)
	var httpErr *Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, KindNotFound, httpErr.Kind)
}
