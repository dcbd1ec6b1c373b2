package middleware

import (
	"bytes"
	"io"
	"strings"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

const (
	contentEncodingHeader = "Content-Encoding"
	zstdEncoding          = "zstd"

	DefaultMaxDecodedBody int64 = 16 << 20
)

// ZstdBodyMiddleware inflates request bodies sent with Content-Encoding: zstd.
// Other bodies pass through untouched. maxBytes caps the decoded size.
func ZstdBodyMiddleware(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDecodedBody
	}
	return func(c *gin.Context) {
		if !strings.EqualFold(strings.TrimSpace(c.GetHeader(contentEncodingHeader)), zstdEncoding) || c.Request.Body == nil {
			c.Next()
			return
		}

		decoder, err := zstd.NewReader(c.Request.Body, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
		if err != nil {
			response.Error(c, appErr.Wrapf(err, appErr.InvalidFormat, "create zstd reader failed"))
			c.Abort()
			return
		}
		defer decoder.Close()

		body, err := io.ReadAll(io.LimitReader(decoder, maxBytes+1))
		if err != nil {
			response.Error(c, appErr.Wrapf(err, appErr.InvalidFormat, "decode zstd body failed"))
			c.Abort()
			return
		}
		if int64(len(body)) > maxBytes {
			response.Error(c, appErr.New(appErr.CodeTooLarge).WithMessagef("decoded body exceeds %d bytes", maxBytes))
			c.Abort()
			return
		}

		_ = c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request.ContentLength = int64(len(body))
		c.Request.Header.Del(contentEncodingHeader)
		c.Next()
	}
}
