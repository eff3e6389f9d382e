package audible

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"audibridge/internal/marketplace"
	"audibridge/internal/services"
)

// Format is the encrypted container a title is acquired in.
type Format string

const (
	FormatAAX  Format = "aax"
	FormatAAXC Format = "aaxc"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatAAX:
		return FormatAAX, nil
	case FormatAAXC:
		return FormatAAXC, nil
	default:
		return "", services.Wrap(services.ErrUnsupported, "audible", "format", fmt.Sprintf("unsupported format %q", s), nil)
	}
}

// Extension is the file extension used for the raw container.
func (f Format) Extension() string { return string(f) }

func (f Format) drmType() string {
	if f == FormatAAX {
		return "Aax"
	}
	return "Adrm"
}

// License is the content delivery answer for one title.
type License struct {
	ASIN       string
	Format     Format
	OfflineURL string
	// Voucher is the encrypted AAXC license blob; empty for AAX.
	Voucher []byte
}

type licenseResponse struct {
	ContentLicense struct {
		StatusCode      string `json:"status_code"`
		Message         string `json:"message"`
		LicenseResponse string `json:"license_response"`
		ContentMetadata struct {
			ContentURL struct {
				OfflineURL string `json:"offline_url"`
			} `json:"content_url"`
		} `json:"content_metadata"`
	} `json:"content_license"`
}

// RequestLicense resolves the download URL (and for AAXC the voucher) for asin.
// A denied licence is an AuthFailed error.
func (c *Client) RequestLicense(ctx context.Context, m marketplace.Marketplace, accessToken, asin string, format Format) (License, error) {
	body, err := jsonBody(map[string]string{
		"consumption_type": "Download",
		"drm_type":         format.drmType(),
		"quality":          "High",
		"response_groups":  "content_reference,chapter_info",
	})
	if err != nil {
		return License{}, err
	}
	var resp licenseResponse
	err = c.doJSON(ctx, request{
		method:   http.MethodPost,
		url:      c.apiURL(m, "/1.0/content/"+url.PathEscape(asin)+"/licenserequest"),
		endpoint: "licenserequest",
		body:     body,
		ctype:    "application/json",
		bearer:   accessToken,
	}, &resp)
	if err != nil {
		return License{}, err
	}

	cl := resp.ContentLicense
	if !strings.EqualFold(cl.StatusCode, "Granted") {
		return License{}, services.Wrap(services.ErrAuthFailed, "audible", "licenserequest",
			fmt.Sprintf("licence %s for %s: %s", strings.ToLower(cl.StatusCode), asin, cl.Message), nil)
	}
	lic := License{ASIN: asin, Format: format, OfflineURL: cl.ContentMetadata.ContentURL.OfflineURL}
	if lic.OfflineURL == "" {
		return License{}, services.Wrap(services.ErrUpstream, "audible", "licenserequest", "offline_url missing", errMissingField)
	}
	if format == FormatAAXC {
		if cl.LicenseResponse == "" {
			return License{}, services.Wrap(services.ErrUpstream, "audible", "licenserequest", "voucher missing", errMissingField)
		}
		voucher, err := base64.StdEncoding.DecodeString(cl.LicenseResponse)
		if err != nil {
			return License{}, services.Wrap(services.ErrUpstream, "audible", "licenserequest", "voucher is not base64", err)
		}
		lic.Voucher = voucher
	}
	return lic, nil
}

// Download streams the content at rawURL into w. Interrupted transfers are
// reported as transient so the caller can retry from scratch.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, request{
		method:   http.MethodGet,
		url:      rawURL,
		endpoint: "download",
		client:   c.download,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(&taggedWriter{w: w}, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		var writeErr *writeError
		if errors.As(err, &writeErr) {
			return n, writeErr.err
		}
		return n, services.Wrap(services.ErrTransient, "audible", "download", "transfer interrupted", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, services.Wrap(services.ErrTransient, "audible", "download",
			fmt.Sprintf("short transfer: %d of %d bytes", n, resp.ContentLength), nil)
	}
	return n, nil
}

// writeError tags failures from the destination writer so they are not
// mistaken for network faults.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

type taggedWriter struct{ w io.Writer }

func (t *taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}
