package inventory

import (
	"fmt"
	"strconv"

	"github.com/rosiehq/rosie/pkg/engine"
)

// DefaultPageSize is used when a collector is built with a non-positive page size.
const DefaultPageSize = 100

// page slices resources at the offset encoded in token.
func page(kind engine.Kind, resources []Resource, token string, size int) (engine.Page, error) {
	if size <= 0 {
		size = DefaultPageSize
	}

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(resources) {
			return engine.Page{}, fmt.Errorf("invalid pagination token %q", token)
		}
		offset = n
	}

	end := offset + size
	if end > len(resources) {
		end = len(resources)
	}

	out := engine.Page{Facts: make([]engine.Facts, 0, end-offset)}
	for _, r := range resources[offset:end] {
		facts, err := r.Facts(kind)
		if err != nil {
			return engine.Page{}, err
		}
		out.Facts = append(out.Facts, facts)
	}
	if end < len(resources) {
		out.NextToken = strconv.Itoa(end)
	}
	return out, nil
}

func find(resources []Resource, name string) int {
	for i := range resources {
		if resources[i].Name == name {
			return i
		}
	}
	return -1
}

func tagValue(r Resource, key string) (string, bool) {
	return engine.Facts{Tags: r.Tags}.TagValue(key)
}
