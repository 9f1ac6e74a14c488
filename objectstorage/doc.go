// Package objectstorage is a client for Replit Object Storage.
//
// A Client operates on a single bucket. When no bucket is given with
// WithBucketID, the Repl's default bucket is looked up from the local sidecar
// the first time an operation needs it:
//
//	client, err := objectstorage.New(ctx)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.UploadFromText(ctx, "greeting.txt", "Hello World!"); err != nil {
//		return err
//	}
//	text, err := client.DownloadAsText(ctx, "greeting.txt")
//
// Failures are reported as *Error values that match the predefined errors
// with errors.Is:
//
//	if errors.Is(err, objectstorage.ErrObjectNotFound) {
//		// ...
//	}
package objectstorage
