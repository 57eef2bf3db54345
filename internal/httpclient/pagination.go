package httpclient

import "context"

// pageResult lets a caller unmarshal a full page (items + cursor) in one
// shot without this package knowing the item type.
type pageResult[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// GetAllPages follows @odata.nextLink cursors starting at firstURL,
// accumulating every item across all pages. It is generic over the item
// type; directory sync uses it for both users and license details.
// Commerce sync keeps its own walker for its plain nextLink field, and the
// usage reports arrive as CSV through GetCSV rather than paged JSON.
func GetAllPages[T any](ctx context.Context, c *Client, tenantID, firstURL string) ([]T, error) {
	var all []T
	url := firstURL

	for url != "" {
		var result pageResult[T]
		if err := c.Get(ctx, tenantID, url, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Value...)
		url = result.NextLink
	}

	return all, nil
}
