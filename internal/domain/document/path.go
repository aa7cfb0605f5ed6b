// Package document models owner-scoped collections of schemaless documents
// and the store port the rest of the system syncs through.
package document

import (
	"fmt"
	"strings"
)

// OwnerSegment is the first segment of every collection path
const OwnerSegment = "owner"

// CollectionPath addresses owner/{ownerId}/{resource}
type CollectionPath struct {
	OwnerID  string
	Resource Resource
}

// NewCollectionPath builds a collection path
func NewCollectionPath(ownerID string, resource Resource) CollectionPath {
	return CollectionPath{OwnerID: ownerID, Resource: resource}
}

// String renders the slash-separated path
func (p CollectionPath) String() string {
	return OwnerSegment + "/" + p.OwnerID + "/" + string(p.Resource)
}

// Doc returns the path of a document inside this collection
func (p CollectionPath) Doc(id string) DocumentPath {
	return DocumentPath{Collection: p, ID: id}
}

// Validate checks that both segments are present and slash free
func (p CollectionPath) Validate() error {
	if p.OwnerID == "" || strings.Contains(p.OwnerID, "/") {
		return NewStoreError(CodeInvalidArgument, fmt.Sprintf("invalid owner id %q", p.OwnerID))
	}
	if p.Resource == "" || strings.Contains(string(p.Resource), "/") {
		return NewStoreError(CodeInvalidArgument, fmt.Sprintf("invalid resource %q", p.Resource))
	}
	return nil
}

// DocumentPath addresses a single document
type DocumentPath struct {
	Collection CollectionPath
	ID         string
}

// String renders owner/{ownerId}/{resource}/{id}
func (p DocumentPath) String() string {
	return p.Collection.String() + "/" + p.ID
}

// Validate checks the collection and the id
func (p DocumentPath) Validate() error {
	if err := p.Collection.Validate(); err != nil {
		return err
	}
	if p.ID == "" || strings.Contains(p.ID, "/") {
		return NewStoreError(CodeInvalidArgument, fmt.Sprintf("invalid document id %q", p.ID))
	}
	return nil
}

// ParseCollectionPath parses owner/{ownerId}/{resource}
func ParseCollectionPath(s string) (CollectionPath, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 || parts[0] != OwnerSegment {
		return CollectionPath{}, NewStoreError(CodeInvalidArgument, fmt.Sprintf("invalid collection path %q", s))
	}
	p := CollectionPath{OwnerID: parts[1], Resource: Resource(parts[2])}
	return p, p.Validate()
}

// OwnerOf extracts the owner id from a collection or document path string.
// It returns "" when the path is not owner scoped.
func OwnerOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != OwnerSegment {
		return ""
	}
	return parts[1]
}
