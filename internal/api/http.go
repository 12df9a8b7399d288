package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/errors"
)

const qrSize = 320

func (a *API) registerRoutes(e *gin.Engine) {
	e.GET("/healthz", a.healthz)
	e.GET("/ws", a.serveWS)

	g := e.Group("/games/:code")
	g.GET("", a.getGame)
	g.GET("/leaderboard", a.getLeaderboard)
	g.GET("/qr", a.getQR)
}

func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"sessions":    a.reg.Len(),
		"connections": a.hub.Len(),
	})
}

func (a *API) serveWS(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		slog.WarnContext(c, "api: websocket upgrade failed", "error", err)
		return
	}

	a.hub.Serve(c.Request.Context(), conn, a.d.Handle)
}

type (
	gameResponse struct {
		Code       string           `json:"code"`
		State      string           `json:"state"`
		Round      int              `json:"round"`
		Questions  int              `json:"questions"`
		Pending    int              `json:"pending"`
		Players    []playerResponse `json:"players"`
		CreatedAt  string           `json:"createdAt"`
		LastActive string           `json:"lastActive"`
	}

	playerResponse struct {
		Name  string `json:"name"`
		Score string `json:"score"`
	}
)

func (a *API) getGame(c *gin.Context) {
	code := c.Param("code")
	s, ok := a.reg.Lookup(code)
	if !ok {
		writeError(c, errors.NotFound("game %q not found", code))
		return
	}

	snap := s.Snapshot()
	resp := gameResponse{
		Code:       snap.Code,
		State:      string(snap.State),
		Round:      snap.Round,
		Questions:  snap.Questions,
		Pending:    snap.Pending,
		Players:    make([]playerResponse, 0, len(snap.Players)),
		CreatedAt:  snap.CreatedAt.UTC().Format(timeFormat),
		LastActive: snap.LastActive.UTC().Format(timeFormat),
	}
	for _, p := range snap.Players {
		resp.Players = append(resp.Players, playerResponse{Name: p.Name, Score: p.Score.String()})
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard(c, c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

// getQR renders the join page URL of a live game as a PNG QR code.
func (a *API) getQR(c *gin.Context) {
	code := c.Param("code")
	if _, ok := a.reg.Lookup(code); !ok {
		writeError(c, errors.NotFound("game %q not found", code))
		return
	}

	png, err := qrcode.Encode(a.joinURL(c, code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(c, errors.Internal(err))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// joinURL is PublicURL, or the requesting host, with the game code as query parameter.
func (a *API) joinURL(c *gin.Context, code string) string {
	base := a.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host + "/"
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
