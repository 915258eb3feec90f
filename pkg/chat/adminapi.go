// Copyright 2024-2026 Aiku AI

package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxRequestBodySize is the maximum accepted admin request body (1 MB).
const maxRequestBodySize = 1 << 20

// AdminAPI exposes the service to operators and to host adapters that feed
// chat events over HTTP.
type AdminAPI struct {
	svc     *Service
	roster  *Roster
	mailbox *Mailbox
	log     zerolog.Logger
}

// NewAdminAPI creates the API. roster and mailbox must be the Presence and
// Sink the service was built with.
func NewAdminAPI(svc *Service, roster *Roster, mailbox *Mailbox, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		svc:     svc,
		roster:  roster,
		mailbox: mailbox,
		log:     log.With().Str("component", "admin_api").Logger(),
	}
}

// Handler returns the routing table.
func (api *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/reload", api.HandleReload)
	mux.HandleFunc("GET /api/rules", api.HandleListRules)
	mux.HandleFunc("POST /api/rules", api.HandlePutRule)
	mux.HandleFunc("DELETE /api/rules/{name}", api.HandleRemoveRule)
	mux.HandleFunc("GET /api/channels", api.HandleListChannels)
	mux.HandleFunc("POST /api/channels/switch", api.HandleSwitchChannel)
	mux.HandleFunc("POST /api/actors", api.HandleJoin)
	mux.HandleFunc("DELETE /api/actors/{actor}", api.HandleQuit)
	mux.HandleFunc("PUT /api/actors/{actor}/position", api.HandleMove)
	mux.HandleFunc("GET /api/actors/{actor}/inbox", api.HandleInbox)
	mux.HandleFunc("POST /api/messages", api.HandleMessage)
	mux.HandleFunc("POST /api/mute", api.HandleMute)
	mux.HandleFunc("DELETE /api/mute/{actor}", api.HandleUnmute)
	mux.HandleFunc("GET /api/moderation/{actor}", api.HandleHistory)
	return mux
}

func (api *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}

// readJSON decodes a size-limited request body into v. It writes the error
// response itself and returns false on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// lookupActor resolves an actor ID from a path value or body field.
func (api *AdminAPI) lookupActor(w http.ResponseWriter, raw string) (Actor, bool) {
	id, err := ParseActorID(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	actor, ok := api.roster.Lookup(id)
	if !ok {
		http.Error(w, "actor not online", http.StatusNotFound)
		return nil, false
	}
	return actor, true
}

func (api *AdminAPI) HandleReload(w http.ResponseWriter, r *http.Request) {
	api.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Config reload requested")
	if err := api.svc.Reload(); err != nil {
		api.log.Error().Err(err).Msg("Config reload failed")
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ErrNoConfigPath) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	cfg := api.svc.Config()
	api.writeJSON(w, http.StatusOK, map[string]int{
		"rules":    len(cfg.AutoReply.Rules),
		"channels": len(cfg.Channels.Channels),
	})
}

func (api *AdminAPI) HandleListRules(w http.ResponseWriter, _ *http.Request) {
	api.writeJSON(w, http.StatusOK, api.svc.Rules.List())
}

func (api *AdminAPI) HandlePutRule(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if !readJSON(w, r, &rule) {
		return
	}
	replaced, err := api.svc.PutRule(rule)
	switch {
	case errors.Is(err, ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		api.log.Error().Err(err).Str("rule", rule.Name).Msg("Failed to persist rule")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	api.log.Info().Str("rule", rule.Name).Bool("replaced", replaced).Msg("Stored auto-reply rule")
	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	stored, _ := api.svc.Rules.Get(rule.Name)
	api.writeJSON(w, status, stored)
}

func (api *AdminAPI) HandleRemoveRule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	removed, err := api.svc.RemoveRule(name)
	switch {
	case errors.Is(err, ErrRuleNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		api.log.Error().Err(err).Str("rule", name).Msg("Failed to persist rule removal")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	api.log.Info().Str("rule", name).Msg("Removed auto-reply rule")
	api.writeJSON(w, http.StatusOK, removed)
}

type channelListResponse struct {
	Channels  ChannelSet `json:"channels"`
	Current   string     `json:"current,omitempty"`
	Available []string   `json:"available,omitempty"`
}

func (api *AdminAPI) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	resp := channelListResponse{Channels: api.svc.Channels.Definitions()}
	if raw := r.URL.Query().Get("actor"); raw != "" {
		actor, ok := api.lookupActor(w, raw)
		if !ok {
			return
		}
		resp.Current = api.svc.Channels.Channel(actor.ID())
		resp.Available = api.svc.Channels.Available(actor)
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type switchRequest struct {
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

func (api *AdminAPI) HandleSwitchChannel(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !readJSON(w, r, &req) {
		return
	}
	actor, ok := api.lookupActor(w, req.Actor)
	if !ok {
		return
	}
	err := api.svc.SwitchChannel(actor, req.Channel)
	switch {
	case errors.Is(err, ErrUnknownChannel):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNoPermission):
		http.Error(w, err.Error(), http.StatusForbidden)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		api.writeJSON(w, http.StatusOK, map[string]string{"channel": req.Channel})
	}
}

type joinRequest struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Position     Position `json:"position"`
	FirstJoin    bool     `json:"first_join,omitempty"`
}

func (api *AdminAPI) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	id := MakeActorID(req.Name)
	if req.ID != "" {
		var err error
		if id, err = ParseActorID(req.ID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	member := NewMemberWithID(id, req.Name, req.Capabilities...)
	if req.DisplayName != "" {
		member.SetDisplayName(req.DisplayName)
	}
	member.MoveTo(req.Position)
	if !api.roster.Add(member) {
		http.Error(w, "actor already online", http.StatusConflict)
		return
	}
	api.svc.Join(member, req.FirstJoin)
	api.writeJSON(w, http.StatusCreated, map[string]string{
		"id":      id.String(),
		"channel": api.svc.Channels.Channel(id),
	})
}

func (api *AdminAPI) HandleQuit(w http.ResponseWriter, r *http.Request) {
	id, err := ParseActorID(r.PathValue("actor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actor, ok := api.roster.Remove(id)
	if !ok {
		http.Error(w, "actor not online", http.StatusNotFound)
		return
	}
	api.svc.Quit(actor)
	api.mailbox.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (api *AdminAPI) HandleMove(w http.ResponseWriter, r *http.Request) {
	actor, ok := api.lookupActor(w, r.PathValue("actor"))
	if !ok {
		return
	}
	var pos Position
	if !readJSON(w, r, &pos) {
		return
	}
	member, ok := actor.(*Member)
	if !ok {
		http.Error(w, "actor position is managed by the host", http.StatusConflict)
		return
	}
	member.MoveTo(pos)
	w.WriteHeader(http.StatusNoContent)
}

func (api *AdminAPI) HandleInbox(w http.ResponseWriter, r *http.Request) {
	id, err := ParseActorID(r.PathValue("actor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items := api.mailbox.Drain(id)
	if items == nil {
		items = []Delivery{}
	}
	api.writeJSON(w, http.StatusOK, items)
}

type messageRequest struct {
	Actor string `json:"actor"`
	Text  string `json:"text"`
	// Candidates limits the potential recipients. Empty means everyone
	// online.
	Candidates []string `json:"candidates,omitempty"`
}

type messageResponse struct {
	ID         string     `json:"id"`
	Cancelled  bool       `json:"cancelled"`
	Decision   Decision   `json:"decision"`
	Channel    string     `json:"channel"`
	Rendered   string     `json:"rendered,omitempty"`
	Recipients []string   `json:"recipients"`
	Mentioned  []string   `json:"mentioned,omitempty"`
	Reply      *AutoReply `json:"reply,omitempty"`
}

func (api *AdminAPI) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !readJSON(w, r, &req) {
		return
	}
	sender, ok := api.lookupActor(w, req.Actor)
	if !ok {
		return
	}
	var candidates []Actor
	if len(req.Candidates) == 0 {
		candidates = api.roster.Online()
	} else {
		candidates = make([]Actor, 0, len(req.Candidates))
		for _, raw := range req.Candidates {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid candidate id "+strconv.Quote(raw), http.StatusBadRequest)
				return
			}
			if actor, ok := api.roster.Lookup(id); ok {
				candidates = append(candidates, actor)
			}
		}
	}

	out := api.svc.HandleMessage(sender, req.Text, candidates)
	ev := out.Event
	resp := messageResponse{
		ID:         ev.ID.String(),
		Cancelled:  ev.Cancelled,
		Decision:   ev.Decision,
		Channel:    ev.Channel,
		Recipients: make([]string, 0, len(ev.Recipients)),
		Reply:      out.Reply,
	}
	if !ev.Cancelled {
		resp.Rendered = ev.Render()
	}
	for _, to := range ev.Recipients {
		resp.Recipients = append(resp.Recipients, to.ID().String())
	}
	for _, m := range ev.Mentioned {
		resp.Mentioned = append(resp.Mentioned, m.ID().String())
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type muteRequest struct {
	Actor string `json:"actor"`
	// Seconds is the mute length. Zero uses the configured duration.
	Seconds int `json:"seconds,omitempty"`
}

func (api *AdminAPI) HandleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		http.Error(w, "seconds must not be negative", http.StatusBadRequest)
		return
	}
	actor, ok := api.lookupActor(w, req.Actor)
	if !ok {
		return
	}
	until := api.svc.Mute(actor, time.Duration(req.Seconds)*time.Second)
	api.log.Info().Stringer("actor", actor.ID()).Time("until", until).Msg("Muted via admin API")
	api.writeJSON(w, http.StatusOK, map[string]time.Time{"muted_until": until})
}

func (api *AdminAPI) HandleUnmute(w http.ResponseWriter, r *http.Request) {
	actor, ok := api.lookupActor(w, r.PathValue("actor"))
	if !ok {
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]bool{"was_muted": api.svc.Unmute(actor)})
}

func (api *AdminAPI) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseActorID(r.PathValue("actor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	events, err := api.svc.History(r.Context(), id, limit)
	if err != nil {
		api.log.Error().Err(err).Msg("Failed to read moderation history")
		http.Error(w, "failed to read moderation history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []ModerationEvent{}
	}
	api.writeJSON(w, http.StatusOK, events)
}
