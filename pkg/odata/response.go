package odata

import "encoding/json"

// PageResult is one page of an OData collection response. Records are
// kept opaque end to end; the client never assumes a schema. Unknown
// annotations in the response are ignored.
type PageResult struct {
	// Context is the @odata.context descriptor.
	Context string `json:"@odata.context"`

	// NextLink is the server-supplied continuation URL for the next
	// page. Empty on the final page.
	NextLink string `json:"@odata.nextLink"`

	// Count is the inline total count, present when requested via
	// QueryOptions.Count.
	Count *int64 `json:"@odata.count"`

	// DeltaLink is passed through unexamined for delta-tracking
	// consumers.
	DeltaLink string `json:"@odata.deltaLink"`

	// Records holds the page's rows in server order.
	Records []json.RawMessage `json:"value"`
}
