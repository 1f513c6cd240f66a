package domain

import (
	"encoding/base64"
	"time"
)

// MIMETypeJPEG is the only encoding produced by frame capture.
const MIMETypeJPEG = "image/jpeg"

// CaptureResult is a single still image extracted from a CameraSession.
// It is transient: call Release once it has been uploaded or displayed.
type CaptureResult struct {
	ID               string
	EncodedBytes     []byte
	Width            int
	Height           int
	SourceFacingMode FacingMode
	Mirrored         bool
	MIMEType         string
	CapturedAt       time.Time
}

// Size returns the encoded payload size in bytes.
func (c *CaptureResult) Size() int { return len(c.EncodedBytes) }

// Base64 returns the payload as standard base64 without a prefix.
func (c *CaptureResult) Base64() string {
	return base64.StdEncoding.EncodeToString(c.EncodedBytes)
}

// DataURL returns the payload as a data URL.
func (c *CaptureResult) DataURL() string {
	mime := c.MIMEType
	if mime == "" {
		mime = MIMETypeJPEG
	}
	return "data:" + mime + ";base64," + c.Base64()
}

// Released reports whether Release has been called.
func (c *CaptureResult) Released() bool { return c.EncodedBytes == nil }

// Release drops the encoded buffer.
func (c *CaptureResult) Release() {
	c.EncodedBytes = nil
}
