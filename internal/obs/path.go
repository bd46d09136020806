package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality without a router.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "content":
		return "/v1/content/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "content" && parts[3] == "download":
		return "/v1/content/:id/download"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "users" && parts[3] == "role":
		return "/v1/users/:id/role"
	}
	return path
}
