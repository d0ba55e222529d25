package telegramapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/platform/config"
)

// ErrSignupNotSupported is returned if Telegram asks to register a new
// account: this service only ever logs into an existing one.
var ErrSignupNotSupported = errors.New("signup not supported")

func authFlow(cfg *config.Config, logger zerolog.Logger) auth.Flow {
	return auth.NewFlow(&authenticator{cfg: cfg, logger: logger}, auth.SendCodeOptions{})
}

// authenticator answers the interactive auth flow from configuration where
// possible. Only the one-time login code has to come from the terminal.
type authenticator struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func (a *authenticator) Phone(_ context.Context) (string, error) {
	if a.cfg.TGPhone != "" {
		return sanitizePhone(a.cfg.TGPhone), nil
	}

	fmt.Print("Enter phone: ")

	phone, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read phone: %w", err)
	}

	phone = sanitizePhone(phone)

	a.logger.Info().Str("phone", maskPhone(phone)).Msg("using phone number")

	return phone, nil
}

func (a *authenticator) Password(_ context.Context) (string, error) {
	if a.cfg.TG2FAPassword != "" {
		return a.cfg.TG2FAPassword, nil
	}

	fmt.Print("Enter 2FA password: ")

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimSpace(password), nil
}

func (a *authenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}

	return strings.TrimSpace(code), nil
}

func (a *authenticator) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (a *authenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignupNotSupported
}

// sanitizePhone keeps digits and a leading plus.
func sanitizePhone(phone string) string {
	phone = strings.TrimSpace(phone)

	var b strings.Builder

	for i, r := range phone {
		if r >= '0' && r <= '9' || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// maskPhone hides all but the last two digits for logging.
func maskPhone(phone string) string {
	if len(phone) <= 2 {
		return "***"
	}

	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
