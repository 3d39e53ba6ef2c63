package extractor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
)

var log = logger.WithComponent("extractor")

// Run executes one extraction and converts its outcome into a Result stamped
// with the method name and elapsed time. It recovers panics, maps plain errors
// onto the error taxonomy and rejects successes without usable formats.
func Run(ctx context.Context, method string, fn func() (*media.MediaInfo, error)) (res media.Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "extractor panicked", fmt.Errorf("%v", r), map[string]any{
				"method": method,
				"stack":  string(debug.Stack()),
			})
			res = Failure(method, start, media.NewError(media.CodeParseError, "internal extractor error"))
		}
	}()

	info, err := fn()
	if err != nil {
		extractErr := AsExtractError(ctx, err)
		log.Debug(ctx, "extraction failed", map[string]any{
			"method": method,
			"code":   string(extractErr.Code),
			"cause":  err.Error(),
		})
		return Failure(method, start, extractErr)
	}
	if info == nil || len(info.Formats) == 0 {
		return Failure(method, start, media.NewError(media.CodeNoFormats, "no formats found"))
	}

	usable := false
	for _, f := range info.Formats {
		if f.Useful() {
			usable = true
			break
		}
	}
	if !usable {
		return Failure(method, start, media.NewError(media.CodeNoMediaStreams, "no video or audio streams present"))
	}

	return media.Result{
		Success: true,
		Info:    info,
		Method:  method,
		Elapsed: time.Since(start),
	}
}

// Failure builds a failed result
func Failure(method string, start time.Time, err *media.ExtractError) media.Result {
	return media.Result{
		Success: false,
		Err:     err,
		Method:  method,
		Elapsed: time.Since(start),
	}
}

// AsExtractError converts any error into an ExtractError. Structured errors
// pass through; context and HTTP errors are classified.
func AsExtractError(ctx context.Context, err error) *media.ExtractError {
	var extractErr *media.ExtractError
	if errors.As(err, &extractErr) {
		return extractErr
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return media.NewError(media.CodeTimeout, "extraction timed out")
	}
	code := httpclient.Code(err)
	return media.NewError(code, "%s", publicMessage(code))
}

// publicMessage gives a fixed message per code so raw upstream errors (which
// can contain URLs with tokens) stay in the logs
func publicMessage(code media.ErrorCode) string {
	switch code {
	case media.CodeNotFound:
		return "media not found"
	case media.CodeAuthExpired:
		return "provider rejected the session"
	case media.CodeQuotaExceeded:
		return "provider rate limit reached"
	case media.CodeParseError:
		return "unexpected provider response"
	case media.CodeTimeout:
		return "provider request timed out"
	default:
		return "provider request failed"
	}
}
