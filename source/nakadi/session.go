package nakadi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// session is one open streaming connection and the decoder reading from it.
// Close is idempotent and is called on every path out of the read loop.
type session[T any] struct {
	resp     *http.Response
	body     io.Reader
	gz       *gzip.Reader
	decoder  *batchDecoder[T]
	streamID string

	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

func openSession[T any](ctx context.Context, client StreamClient, uri string, header http.Header, codec Codec[T], onDecodeError func(error), log *slog.Logger) (*session[T], error) {
	resp, err := client.OpenStream(ctx, uri, header)
	if err != nil {
		return nil, err
	}
	s := &session[T]{resp: resp, body: resp.Body, streamID: resp.Header.Get(headerStreamID)}
	// A blocked read only returns once the body is closed underneath it.
	s.stop = context.AfterFunc(ctx, func() { _ = resp.Body.Close() })

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			err = TransportError("open gzip stream", err)
			suppress(err, s.Close())
			return nil, err
		}
		s.gz, s.body = gz, gz
	}
	s.decoder = newBatchDecoder(s.body, codec, onDecodeError, log)
	return s, nil
}

func (s *session[T]) next() (*Batch[T], error) {
	return s.decoder.next()
}

func (s *session[T]) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		var errs []error
		if s.gz != nil {
			if err := s.gz.Close(); err != nil && !errors.Is(err, io.EOF) {
				errs = append(errs, err)
			}
		}
		if err := s.resp.Body.Close(); err != nil && !errors.Is(err, http.ErrBodyReadAfterClose) {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
