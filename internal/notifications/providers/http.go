package providers

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	notifications "github.com/getdatasurge/fresh-staged-sub013/internal/notifications/domain"
)

const maxErrorBody = 4096

func defaultClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// tierForStatus maps an HTTP status with no provider-specific code onto a tier.
func tierForStatus(status int) notifications.Tier {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return notifications.TierTransient
	case status == http.StatusGone:
		return notifications.TierFatal
	default:
		return notifications.TierRecoverable
	}
}

func statusError(status int, message string) *notifications.DeliveryError {
	return &notifications.DeliveryError{
		Tier:    tierForStatus(status),
		Code:    strconv.Itoa(status),
		Message: message,
	}
}

// transportError classifies failures before any response arrived.
func transportError(err error) *notifications.DeliveryError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return notifications.Transient("timeout", "provider timed out", err)
	}
	return notifications.Classify(fmt.Errorf("provider request: %w", err))
}

func readErrorBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return body
}
