package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/faceid/internal/form"
)

// formError lists every field error in a stable order.
func formError(res form.Result) error {
	keys := make([]string, 0, len(res.Errors))
	for k := range res.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, res.Errors[k])
	}
	return fmt.Errorf("invalid identity: %s", strings.Join(msgs, "; "))
}
