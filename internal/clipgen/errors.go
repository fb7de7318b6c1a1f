package clipgen

import "fmt"

// FetchError means a source frame or a provider result could not be downloaded.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError means the finished clip could not be persisted.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store clip at %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
