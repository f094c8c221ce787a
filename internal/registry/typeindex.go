package registry

import "sort"

// TypeIndex maps a type tag to the set of names registered under it.
// It is not safe for concurrent use; the Registry guards it with its own lock.
//
// A tag whose last name is removed keeps an empty bucket, so it stays known.
type TypeIndex struct {
	buckets map[string]map[string]struct{}
}

// NewTypeIndex creates an empty index.
func NewTypeIndex() *TypeIndex {
	return &TypeIndex{buckets: make(map[string]map[string]struct{})}
}

// Add puts name under tag.
func (ix *TypeIndex) Add(tag, name string) {
	bucket, ok := ix.buckets[tag]
	if !ok {
		bucket = make(map[string]struct{})
		ix.buckets[tag] = bucket
	}
	bucket[name] = struct{}{}
}

// Remove takes name out of tag's bucket. Returns false if it was not there.
func (ix *TypeIndex) Remove(tag, name string) bool {
	bucket, ok := ix.buckets[tag]
	if !ok {
		return false
	}
	if _, ok := bucket[name]; !ok {
		return false
	}
	delete(bucket, name)
	return true
}

// Names returns a sorted copy of the names under tag and whether the tag is known.
func (ix *TypeIndex) Names(tag string) ([]string, bool) {
	bucket, ok := ix.buckets[tag]
	if !ok {
		return []string{}, false
	}
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// Tags returns all known tags, sorted.
func (ix *TypeIndex) Tags() []string {
	tags := make([]string, 0, len(ix.buckets))
	for tag := range ix.buckets {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Reset forgets every tag.
func (ix *TypeIndex) Reset() {
	ix.buckets = make(map[string]map[string]struct{})
}
