// Package handlers provides the HTTP API of the video helper.
//
// It includes handlers for:
//   - Uploading a clip and starting a conversion job
//   - Job status, live progress over a websocket, and cancellation
//   - Downloading the converted artifact
//   - Job history and health checks
package handlers
