package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var (
	errInvalidGzip  = errors.New("invalid gzip body")
	errBodyTooLarge = errors.New("request body too large")
)

// GzipRequestMiddleware inflates gzip-encoded request bodies before the
// handlers decode them. A body that is not valid gzip, or that inflates past
// postMaxSize, is rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipEncoded(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}

			data, err := inflate(req.Body)
			_ = req.Body.Close()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			req.Body = io.NopCloser(bytes.NewReader(data))
			req.ContentLength = int64(len(data))
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Set(echo.HeaderContentLength, strconv.Itoa(len(data)))
			return next(c)
		}
	}
}

// gzipEncoded reports whether any Content-Encoding token is gzip.
func gzipEncoded(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

func inflate(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errInvalidGzip
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, postMaxSize+1))
	if err != nil {
		return nil, errInvalidGzip
	}
	if len(data) > postMaxSize {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// RequestLogger logs one structured entry per request.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			fields := log.Fields{
				"method":   c.Request().Method,
				"route":    c.Path(),
				"status":   c.Response().Status,
				"total_ms": durationToMillis(time.Since(start)),
			}
			if err != nil {
				logger.WithFields(fields).WithError(err).Warn("http.request")
				return nil
			}
			logger.WithFields(fields).Debug("http.request")
			return nil
		}
	}
}
