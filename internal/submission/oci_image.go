package submission

import "strings"

// OciImage identifies a container image by registry, name, and tag. It is
// comparable by value, so it can be used directly as a map key (the cache
// key for the image preparer's condition group).
type OciImage struct {
	Registry string
	Name     string
	Tag      string
}

// ParseOciImage parses a reference of the form
// "[registry/]name[:tag]" using the same heuristic as the original: a
// registry segment is only recognized when it is "localhost", contains a
// '.', or contains a ':' (a port). Otherwise the whole path is treated as
// the image name under the default registry.
func ParseOciImage(ref string) OciImage {
	tag := "latest"
	rest := ref
	if idx := strings.LastIndex(ref, ":"); idx >= 0 {
		// Only treat this as a tag separator if there is no '/' after it
		// (otherwise a port-bearing registry like "127.0.0.1:5000/x" would
		// be misparsed).
		if !strings.Contains(ref[idx+1:], "/") {
			rest = ref[:idx]
			tag = ref[idx+1:]
		}
	}

	slash := strings.Index(rest, "/")
	if slash < 0 {
		return OciImage{Registry: "docker.io", Name: rest, Tag: tag}
	}

	candidateRegistry := rest[:slash]
	name := rest[slash+1:]
	if candidateRegistry == "localhost" || strings.Contains(candidateRegistry, ".") || strings.Contains(candidateRegistry, ":") {
		return OciImage{Registry: candidateRegistry, Name: name, Tag: tag}
	}

	return OciImage{Registry: "docker.io", Name: rest, Tag: tag}
}

// String renders the canonical "registry/name:tag" form.
func (i OciImage) String() string {
	return i.Registry + "/" + i.Name + ":" + i.Tag
}

// EscapedName returns the image name with '/' replaced by '_', used when
// building on-disk paths.
func (i OciImage) EscapedName() string {
	return strings.ReplaceAll(i.Name, "/", "_")
}
