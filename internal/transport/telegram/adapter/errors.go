package adapter

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
)

// classifySendError wraps errors meaning "this user cannot be messaged" with
// kit.ErrForbidden so callers can tell them apart from transport failures.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if isForbidden(err) {
		return fmt.Errorf("%w: %w", kit.ErrForbidden, err)
	}
	return err
}

func isForbidden(err error) bool {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated):
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return true
	}
	return strings.Contains(err.Error(), "Forbidden")
}
