package paypal

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gnupg/payproc/internal/perr"
)

const (
	paypalLiveVerifyURL    = "https://www.paypal.com/cgi-bin/webscr"
	paypalSandboxVerifyURL = "https://www.sandbox.paypal.com/cgi-bin/webscr"
)

var ipnHTTPClient = &http.Client{Timeout: 20 * time.Second}

// ProcessIPN validates and logs a PayPal Instant Payment Notification.
// The connection that received it has already been closed by the time
// this runs, so there is nothing left to report the outcome to but the
// log: the caller only gets to decide whether the raw request looked
// well-formed enough to hand off.
func (c *Client) ProcessIPN(ctx context.Context, rawRequest string, log zerolog.Logger) {
	if rawRequest == "" {
		log.Error().Msg("ppipnhd: no request given")
		return
	}
	log.Info().Int("length", len(rawRequest)).Msg("ppipnhd: received request")

	form, err := url.ParseQuery(rawRequest)
	if err != nil {
		log.Error().Err(err).Msg("ppipnhd: error parsing request")
		return
	}

	receiverEmail := form.Get("receiver_email")
	if receiverEmail != c.receiverEmail {
		log.Error().Str("receiver_email", receiverEmail).Msg("ppipnhd: wrong receiver_email")
		return
	}

	// PayPal sets test_ipn=1 on notifications it originates from the
	// sandbox, regardless of which host this daemon itself talks to, so
	// the verification host is chosen from that field alone.
	testIPN, _ := strconv.Atoi(form.Get("test_ipn"))
	if err := verifyIPN(ctx, testIPN == 0, rawRequest); err != nil {
		log.Error().Err(err).Msg("ppipnhd: IPN is not authentic")
		return
	}

	log.Info().Msg("ppipnhd: IPN accepted")
}

// verifyIPN echoes rawRequest back to PayPal prefixed with
// "cmd=_notify-validate&", as PayPal's IPN protocol requires, and checks
// that the literal response is "VERIFIED".
func verifyIPN(ctx context.Context, live bool, rawRequest string) error {
	target := paypalSandboxVerifyURL
	if live {
		target = paypalLiveVerifyURL
	}

	body := "cmd=_notify-validate&" + rawRequest
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ipnHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return perr.GatewayError.Withf("paypal ipn verify: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		return perr.InvResponse.Withf("paypal ipn verify: empty response")
	}
	if line := scanner.Text(); line != "VERIFIED" {
		return perr.NotFound.Withf("paypal ipn verify: response was %q", line)
	}
	return nil
}
