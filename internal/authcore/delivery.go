package authcore

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

// Redirect landing path on the front-end after the server-side callback.
const frontendRedirectPath = "/social-redirect-kakao"

// Bridge message types posted to window.opener.
const (
	bridgeMessageSuccess = "OAUTH_SUCCESS"
	bridgeMessageError   = "OAUTH_ERROR"
)

// DeliveryPayload carries the issued credentials to the browser.
type DeliveryPayload struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// DeliveryStrategy hands issued credentials (or a failure code) to the browser.
// The two implementations match the two provider flows: a server-side redirect
// with cookies, and a popup posting a message back to the opening window.
type DeliveryStrategy interface {
	DeliverSuccess(contextGin *gin.Context, origin OriginResolution, payload DeliveryPayload)
	DeliverFailure(contextGin *gin.Context, origin OriginResolution, errorCode string)
}

// RedirectCookieDelivery sets httpOnly session cookies and redirects to the front-end.
type RedirectCookieDelivery struct {
	config ServerConfig
	clock  Clock
}

// NewRedirectCookieDelivery constructs the redirect+cookie strategy.
func NewRedirectCookieDelivery(config ServerConfig, clock Clock) *RedirectCookieDelivery {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &RedirectCookieDelivery{config: config, clock: clock}
}

// DeliverSuccess sets both session cookies and redirects with success=true.
func (delivery *RedirectCookieDelivery) DeliverSuccess(contextGin *gin.Context, origin OriginResolution, payload DeliveryPayload) {
	now := delivery.clock.Now()
	writeSessionCookie(contextGin, delivery.config.AccessCookieName, payload.AccessToken, int(payload.AccessExpiresAt.Sub(now).Seconds()), origin)
	writeSessionCookie(contextGin, delivery.config.RefreshCookieName, payload.RefreshToken, int(payload.RefreshExpiresAt.Sub(now).Seconds()), origin)
	contextGin.Redirect(http.StatusFound, origin.FrontendURL+frontendRedirectPath+"?success=true")
}

// DeliverFailure redirects with success=false and the error code.
func (delivery *RedirectCookieDelivery) DeliverFailure(contextGin *gin.Context, origin OriginResolution, errorCode string) {
	contextGin.Redirect(http.StatusFound, origin.FrontendURL+frontendRedirectPath+"?success=false&error="+url.QueryEscape(errorCode))
}

// PopupBridgeDelivery renders a document that posts the result to window.opener
// and closes the popup, with a same-window redirect fallback when no opener exists.
type PopupBridgeDelivery struct {
	template *template.Template
}

// NewPopupBridgeDelivery parses the bridge document from the embedded assets.
func NewPopupBridgeDelivery(assets interface {
	ReadFile(name string) ([]byte, error)
}) (*PopupBridgeDelivery, error) {
	raw, readErr := assets.ReadFile("bridge.html")
	if readErr != nil {
		return nil, fmt.Errorf("delivery.bridge.assets: %w", readErr)
	}
	parsed, parseErr := template.New("bridge").Parse(string(raw))
	if parseErr != nil {
		return nil, fmt.Errorf("delivery.bridge.template: %w", parseErr)
	}
	return &PopupBridgeDelivery{template: parsed}, nil
}

type bridgeDocumentData struct {
	TargetOrigin string
	Message      map[string]any
	FallbackURL  string
}

// DeliverSuccess renders the bridge document carrying the credential payload.
func (delivery *PopupBridgeDelivery) DeliverSuccess(contextGin *gin.Context, origin OriginResolution, payload DeliveryPayload) {
	delivery.render(contextGin, origin, map[string]any{
		"type":    bridgeMessageSuccess,
		"payload": payload,
	}, "true", "")
}

// DeliverFailure renders the bridge document carrying the error code.
func (delivery *PopupBridgeDelivery) DeliverFailure(contextGin *gin.Context, origin OriginResolution, errorCode string) {
	delivery.render(contextGin, origin, map[string]any{
		"type":    bridgeMessageError,
		"payload": map[string]any{"error": errorCode},
	}, "false", errorCode)
}

func (delivery *PopupBridgeDelivery) render(contextGin *gin.Context, origin OriginResolution, message map[string]any, successValue string, errorCode string) {
	encodedMessage, encodeErr := json.Marshal(message)
	if encodeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	fallback := origin.FrontendURL + "/login?success=" + successValue
	if errorCode != "" {
		fallback += "&error=" + url.QueryEscape(errorCode)
	}
	fallback += "#auth_payload=" + url.QueryEscape(string(encodedMessage))

	contextGin.Status(http.StatusOK)
	contextGin.Header("Content-Type", "text/html; charset=utf-8")
	if executeErr := delivery.template.Execute(contextGin.Writer, bridgeDocumentData{
		TargetOrigin: origin.FrontendURL,
		Message:      message,
		FallbackURL:  fallback,
	}); executeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}

// writeSessionCookie applies the origin-dependent cookie policy: Secure and
// SameSite=None with an explicit domain when deployed, Lax on localhost so the
// cookie survives plain-http development.
func writeSessionCookie(contextGin *gin.Context, name string, value string, maxAgeSeconds int, origin OriginResolution) {
	sameSite := http.SameSiteNoneMode
	if origin.IsLocal {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   origin.CookieDomain,
		MaxAge:   maxAgeSeconds,
		Secure:   !origin.IsLocal,
		HttpOnly: true,
		SameSite: sameSite,
	})
}

// clearSessionCookie drops a session cookie using the same attribute policy.
func clearSessionCookie(contextGin *gin.Context, name string, origin OriginResolution) {
	sameSite := http.SameSiteNoneMode
	if origin.IsLocal {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   origin.CookieDomain,
		MaxAge:   -1,
		Secure:   !origin.IsLocal,
		HttpOnly: true,
		SameSite: sameSite,
	})
}
