package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nijaru/catchup/errors"
)

const maxBodyBytes = 4 << 20

// classifyStatus maps a catalog HTTP status to the failure taxonomy.
func classifyStatus(op string, status int, body []byte) error {
	msg := fmt.Sprintf("catalog returned HTTP %d", status)
	cause := fmt.Errorf("%s: %s", msg, truncateBody(body))
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return errors.Blocked(op, cause, msg)
	case status == http.StatusNotFound:
		return errors.NoArchive(op, cause, "channel not found")
	case status >= 500:
		return errors.Transient(op, cause, msg)
	default:
		return errors.FormatOrProtocol(op, cause, msg)
	}
}

// classifyTransport maps a client error. Expiry of ctx is left to the
// retry loop, which reports it against the active stage.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Transient(op, err, "catalog unreachable")
}

// fetch performs req and returns the body of a 2xx response.
func fetch(ctx context.Context, client *http.Client, op string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(op, resp.StatusCode, body)
	}
	return body, nil
}

func decode(op string, body []byte, target interface{}) error {
	if err := json.Unmarshal(body, target); err != nil {
		return errors.FormatOrProtocol(op, err, "catalog returned malformed JSON")
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
