package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentme/chatrelay/internal/metrics"
	"github.com/rentme/chatrelay/internal/store"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	opQueueSize         = 256
	completionQueueSize = 256
	roomQueueSize       = 128
	resolveQueueSize    = 128
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opSend
	opEdit
	opDelete
	opHistory
	opMarkRead
)

// op is one unit of work flowing through the hub. WS commands and REST
// calls both become ops; the reply channel is set for REST callers, the
// client for live connections.
type op struct {
	kind          opKind
	client        *Client
	userID        int64
	counterpartID int64
	messageID     int64
	body          string
	roomKey       string
	reply         chan opResult
}

type opResult struct {
	msg *store.Message
	err error
}

type completionKind int

const (
	compDeliver completionKind = iota
	compBroadcast
	compPresence
	compMarkRead
	compResolved
)

// completion is posted back to the hub goroutine by room workers and the
// resolver. All event delivery happens in Run, so client event channels
// have a single writer and can be closed safely on unregister.
type completion struct {
	kind      completionKind
	client    *Client
	event     *Event
	eventKind EventKind
	msg       *store.Message
	origin    *Client
	userID    int64
	roomKey   string
	online    bool
	partners  []int64
	op        *op
	err       *CoreError
}

// HubOptions tunes hub behavior; zero values fall back to defaults.
type HubOptions struct {
	// StoreTimeout bounds every persistence call. An operation that
	// exceeds it fails with store_unavailable instead of hanging its
	// room's queue.
	StoreTimeout time.Duration
	// HistoryLimit is the page size for history hydration on room join.
	HistoryLimit int
}

// Hub owns connection lifecycle, room membership, presence and message
// routing. Operations targeting the same room are serialized through a
// per-room worker; different rooms proceed in parallel.
type Hub struct {
	store         store.Store
	log           *zerolog.Logger
	presence      *Presence
	conversations *ConversationLists
	storeTimeout  time.Duration
	historyLimit  int

	ops         chan op
	completions chan completion
	resolves    chan op
	done        chan struct{}
	runCtx      context.Context

	// Owned by the Run goroutine.
	clients map[*Client]struct{}
	byUser  map[int64]map[*Client]struct{}
	rooms   map[string]*Room
	workers map[string]*roomWorker
	// msgRooms maps confirmed message ids to their room so edits and
	// deletes route to the room worker in hub arrival order. Ids the hub
	// has not seen confirmed go through the serial resolver instead;
	// resolving counts those in flight per id so later operations on the
	// same message queue behind them.
	msgRooms  map[int64]string
	resolving map[int64]int
}

type roomWorker struct {
	key string
	ops chan op
}

// NewHub creates a hub over the given store.
func NewHub(st store.Store, logger *zerolog.Logger, opts HubOptions) *Hub {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	presence := NewPresence()
	return &Hub{
		store:         st,
		log:           logger,
		presence:      presence,
		conversations: NewConversationLists(st, presence),
		storeTimeout:  opts.StoreTimeout,
		historyLimit:  opts.HistoryLimit,
		ops:           make(chan op, opQueueSize),
		completions:   make(chan completion, completionQueueSize),
		resolves:      make(chan op, resolveQueueSize),
		done:          make(chan struct{}),
		clients:       make(map[*Client]struct{}),
		byUser:        make(map[int64]map[*Client]struct{}),
		rooms:         make(map[string]*Room),
		workers:       make(map[string]*roomWorker),
		msgRooms:      make(map[int64]string),
		resolving:     make(map[int64]int),
	}
}

// Presence exposes the online/offline view.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// Conversations exposes the summary-list aggregator.
func (h *Hub) Conversations() *ConversationLists {
	return h.conversations
}

// Run processes hub operations until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.runCtx = ctx
	defer close(h.done)

	go h.runResolver()

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-h.ops:
			h.handleOp(o)
		case c := <-h.completions:
			h.handleCompletion(c)
		}
	}
}

// RegisterClient binds a live connection to the hub. The 0 -> 1
// connection-count transition for the user emits exactly one user_online.
func (h *Hub) RegisterClient(c *Client) {
	h.enqueue(op{kind: opRegister, client: c})
}

// UnregisterClient removes a connection. Idempotent; the 1 -> 0
// transition emits exactly one user_offline.
func (h *Hub) UnregisterClient(c *Client) {
	h.enqueue(op{kind: opUnregister, client: c})
}

// Send validates, persists and fans out a new message. The returned
// message is the caller's synchronous confirmation; the broadcast skips
// the originating connection.
func (h *Hub) Send(ctx context.Context, senderID, receiverID int64, body string) (*store.Message, error) {
	o := op{kind: opSend, userID: senderID, counterpartID: receiverID, body: body, reply: make(chan opResult, 1)}
	return h.submit(ctx, o)
}

// Edit replaces the body of a message. Only the original sender may edit.
func (h *Hub) Edit(ctx context.Context, editorID, messageID int64, body string) (*store.Message, error) {
	o := op{kind: opEdit, userID: editorID, messageID: messageID, body: body, reply: make(chan opResult, 1)}
	return h.submit(ctx, o)
}

// Delete tombstones a message. Only the original sender may delete.
func (h *Hub) Delete(ctx context.Context, requesterID, messageID int64) error {
	o := op{kind: opDelete, userID: requesterID, messageID: messageID, reply: make(chan opResult, 1)}
	_, err := h.submit(ctx, o)
	return err
}

// MarkRead acknowledges the conversation with a counterpart, resetting
// the caller's unread count to zero.
func (h *Hub) MarkRead(ctx context.Context, userID, counterpartID int64) error {
	key, err := RoomKey(userID, counterpartID)
	if err != nil {
		return coreError(ErrCodeInvalidRoom, "invalid conversation")
	}
	o := op{kind: opMarkRead, userID: userID, counterpartID: counterpartID, roomKey: key, reply: make(chan opResult, 1)}
	_, err = h.submit(ctx, o)
	return err
}

// History reads the active messages of the pair's room in ascending
// creation order. Pure read; it does not pass through the room queue.
func (h *Hub) History(ctx context.Context, userID, otherID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	key, err := RoomKey(userID, otherID)
	if err != nil {
		return nil, coreError(ErrCodeInvalidRoom, "invalid conversation")
	}
	if limit <= 0 {
		limit = h.historyLimit
	} else if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	msgs, err := h.store.ListMessages(sctx, key, limit, beforeID)
	if err != nil {
		h.log.Warn().Err(err).Str("room", key).Msg("history read failed")
		return nil, coreError(ErrCodeStoreUnavailable, "history unavailable")
	}
	return msgs, nil
}

func (h *Hub) submit(ctx context.Context, o op) (*store.Message, error) {
	select {
	case h.ops <- o:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, coreError(ErrCodeStoreUnavailable, "relay shutting down")
	}

	select {
	case res := <-o.reply:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) enqueue(o op) {
	select {
	case h.ops <- o:
	case <-h.done:
	}
}

func (h *Hub) post(c completion) {
	select {
	case h.completions <- c:
	case <-h.runCtx.Done():
	}
}

// ==== Run-goroutine op handling ====

func (h *Hub) handleOp(o op) {
	switch o.kind {
	case opRegister:
		h.register(o.client)
		return
	case opUnregister:
		h.unregister(o.client)
		return
	}

	// Commands from a connection that already unregistered are dropped;
	// its event channel is closed.
	if o.client != nil {
		if _, ok := h.clients[o.client]; !ok {
			return
		}
	}

	switch o.kind {
	case opJoin:
		h.join(o)
	case opSend:
		if strings.TrimSpace(o.body) == "" {
			h.opError(o, coreError(ErrCodeInvalidInput, "message body is empty"))
			return
		}
		key, err := RoomKey(o.userID, o.counterpartID)
		if err != nil {
			h.opError(o, coreError(ErrCodeInvalidRoom, "invalid conversation"))
			return
		}
		o.roomKey = key
		h.dispatch(o)
	case opEdit:
		if strings.TrimSpace(o.body) == "" {
			h.opError(o, coreError(ErrCodeInvalidInput, "message body is empty"))
			return
		}
		h.routeByMessage(o)
	case opDelete:
		h.routeByMessage(o)
	case opMarkRead:
		if o.roomKey == "" {
			key, err := RoomKey(o.userID, o.counterpartID)
			if err != nil {
				h.opError(o, coreError(ErrCodeInvalidRoom, "invalid conversation"))
				return
			}
			o.roomKey = key
		}
		h.dispatch(o)
	}
}

func (h *Hub) register(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	conns, ok := h.byUser[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.byUser[c.UserID] = conns
	}
	conns[c] = struct{}{}
	metrics.ConnectionsActive.Inc()

	go h.pump(c)

	if h.presence.add(c.UserID) {
		h.announcePresence(c.UserID, true)
	}
	h.log.Debug().Str("conn_id", c.ConnID).Int64("user_id", c.UserID).Msg("connection registered")
}

func (h *Hub) unregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for key := range c.rooms {
		if room, ok := h.rooms[key]; ok {
			room.RemoveClient(c)
		}
	}
	if conns, ok := h.byUser[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	close(c.quit)
	close(c.Events)
	metrics.ConnectionsActive.Dec()

	if h.presence.remove(c.UserID) {
		h.announcePresence(c.UserID, false)
	}
	h.log.Debug().Str("conn_id", c.ConnID).Int64("user_id", c.UserID).Msg("connection unregistered")
}

func (h *Hub) join(o op) {
	key, err := RoomKey(o.userID, o.counterpartID)
	if err != nil {
		h.opError(o, coreError(ErrCodeInvalidRoom, "invalid conversation"))
		return
	}
	room, ok := h.rooms[key]
	if !ok {
		room = NewRoom(key)
		h.rooms[key] = room
	}
	room.AddClient(o.client)
	o.client.rooms[key] = struct{}{}

	// Hydrate the joining connection from the store; a reconnecting tab
	// catches up on anything it missed while offline.
	o.roomKey = key
	o.kind = opHistory
	h.dispatch(o)
}

// pump forwards a connection's commands into the hub queue until the
// connection unregisters or the hub stops.
func (h *Hub) pump(c *Client) {
	for {
		select {
		case <-h.runCtx.Done():
			return
		case <-c.quit:
			return
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			h.enqueue(commandToOp(c, cmd))
		}
	}
}

func commandToOp(c *Client, cmd *Command) op {
	o := op{
		client:        c,
		userID:        c.UserID,
		counterpartID: cmd.CounterpartID,
		messageID:     cmd.MessageID,
		body:          cmd.Body,
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		o.kind = opJoin
	case CommandSendMessage:
		o.kind = opSend
	case CommandEditMessage:
		o.kind = opEdit
	case CommandDeleteMessage:
		o.kind = opDelete
	case CommandMarkRead:
		o.kind = opMarkRead
	}
	return o
}

// routeByMessage routes an edit/delete to its room's worker. Messages
// the hub has seen confirmed are indexed, so the common path dispatches
// right here in hub arrival order. Unknown ids (messages persisted
// before this process started) go through the serial resolver, which
// keeps arrival order among themselves; later operations on an id with
// a resolution in flight queue behind it. The lookup only determines
// routing; the worker re-reads the message inside its serialized
// section before applying anything.
func (h *Hub) routeByMessage(o op) {
	if key, ok := h.msgRooms[o.messageID]; ok && h.resolving[o.messageID] == 0 {
		o.roomKey = key
		h.dispatch(o)
		return
	}
	select {
	case h.resolves <- o:
		h.resolving[o.messageID]++
	default:
		h.opError(o, coreError(ErrCodeStoreUnavailable, "resolver queue saturated"))
	}
}

// runResolver serializes room lookups for operations referencing message
// ids the hub has not indexed. A single goroutine keeps those lookups in
// arrival order; results come back through the completion queue.
func (h *Hub) runResolver() {
	for {
		select {
		case <-h.runCtx.Done():
			return
		case o := <-h.resolves:
			sctx, cancel := h.storeCtx()
			msg, err := h.store.GetMessage(sctx, o.messageID)
			cancel()
			if err != nil {
				cerr := coreError(ErrCodeStoreUnavailable, "store unavailable")
				if errors.Is(err, store.ErrNotFound) {
					cerr = coreError(ErrCodeNotFound, "unknown message")
				}
				h.post(completion{kind: compResolved, op: &o, err: cerr})
				continue
			}
			o.roomKey = msg.RoomKey
			h.post(completion{kind: compResolved, op: &o})
		}
	}
}

func (h *Hub) dispatch(o op) {
	w, ok := h.workers[o.roomKey]
	if !ok {
		w = &roomWorker{key: o.roomKey, ops: make(chan op, roomQueueSize)}
		h.workers[o.roomKey] = w
		go h.runWorker(w)
	}
	select {
	case w.ops <- o:
	default:
		// A saturated room queue means persistence is backed up; fail
		// fast so the caller can retry instead of hanging.
		h.opError(o, coreError(ErrCodeStoreUnavailable, "room queue saturated"))
	}
}

// opError reports a failure for an op from within the Run goroutine.
func (h *Hub) opError(o op, cerr *CoreError) {
	if o.reply != nil {
		o.reply <- opResult{err: cerr}
		return
	}
	if o.client != nil {
		h.deliver(o.client, &Event{Kind: EventError, Error: cerr})
	}
}

// deliver sends an event to one registered client. Only the Run goroutine
// may call it.
func (h *Hub) deliver(c *Client, ev *Event) {
	if _, ok := h.clients[c]; ok {
		c.trySend(ev)
	}
}

func (h *Hub) announcePresence(userID int64, online bool) {
	go func() {
		sctx, cancel := context.WithTimeout(h.runCtx, h.storeTimeout)
		defer cancel()
		entries, err := h.store.ListConversations(sctx, userID)
		if err != nil {
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("presence roster lookup failed")
			return
		}
		partners := make([]int64, 0, len(entries))
		for _, e := range entries {
			partners = append(partners, e.Counterpart.ID)
		}
		h.post(completion{kind: compPresence, userID: userID, online: online, partners: partners})
	}()
}

// ==== Run-goroutine completion handling ====

func (h *Hub) handleCompletion(c completion) {
	switch c.kind {
	case compDeliver:
		h.deliver(c.client, c.event)
	case compBroadcast:
		h.broadcast(c)
	case compPresence:
		kind := EventUserOnline
		if !c.online {
			kind = EventUserOffline
		}
		ev := &Event{Kind: kind, UserID: c.userID}
		nudgeEv := &Event{Kind: EventConversationListUpdate}
		for _, pid := range c.partners {
			for cl := range h.byUser[pid] {
				// The partner's list shows the online flag, so it is
				// stale now too.
				cl.trySend(ev)
				cl.trySend(nudgeEv)
			}
		}
	case compMarkRead:
		h.nudge(c.userID)
	case compResolved:
		h.finishResolve(c)
	}
}

func (h *Hub) finishResolve(c completion) {
	o := *c.op
	if n := h.resolving[o.messageID]; n > 1 {
		h.resolving[o.messageID] = n - 1
	} else {
		delete(h.resolving, o.messageID)
	}
	if c.err != nil {
		h.opError(o, c.err)
		return
	}
	h.msgRooms[o.messageID] = o.roomKey
	h.dispatch(o)
}

// broadcast fans a confirmed message event out to every live connection
// in the room except the originating one, which already holds its
// synchronous confirmation. The summary projection was updated by the
// room worker before the ack.
func (h *Hub) broadcast(c completion) {
	msg := c.msg
	switch c.eventKind {
	case EventMessageCreated:
		h.msgRooms[msg.ID] = msg.RoomKey
	case EventMessageDeleted:
		// Deleted is terminal; the worker re-read answers not_found for
		// anything still referencing the id.
		delete(h.msgRooms, msg.ID)
	}

	if room, ok := h.rooms[msg.RoomKey]; ok {
		room.BroadcastExcept(&Event{Kind: c.eventKind, RoomKey: msg.RoomKey, Message: msg}, c.origin)
	}

	h.nudge(msg.SenderID)
	h.nudge(msg.ReceiverID)
}

// nudge tells every connection of a user that its conversation list is
// stale.
func (h *Hub) nudge(userID int64) {
	ev := &Event{Kind: EventConversationListUpdate}
	for cl := range h.byUser[userID] {
		cl.trySend(ev)
	}
}

// ==== Room workers ====

// runWorker serializes all operations of one room. Persistence latency in
// this room never blocks other rooms or the hub goroutine.
func (h *Hub) runWorker(w *roomWorker) {
	for {
		select {
		case <-h.runCtx.Done():
			return
		case o := <-w.ops:
			h.processRoomOp(o)
		}
	}
}

func (h *Hub) processRoomOp(o op) {
	switch o.kind {
	case opSend:
		h.workerSend(o)
	case opEdit:
		h.workerEdit(o)
	case opDelete:
		h.workerDelete(o)
	case opHistory:
		h.workerHistory(o)
	case opMarkRead:
		h.workerMarkRead(o)
	}
}

func (h *Hub) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.runCtx, h.storeTimeout)
}

// workerFail reports an op failure from a worker goroutine.
func (h *Hub) workerFail(o op, cerr *CoreError) {
	if o.reply != nil {
		o.reply <- opResult{err: cerr}
		return
	}
	if o.client != nil {
		h.post(completion{kind: compDeliver, client: o.client, event: &Event{Kind: EventError, Error: cerr}})
	}
}

// workerAck returns the confirmed message to the originating caller.
func (h *Hub) workerAck(o op, kind EventKind, msg *store.Message) {
	if o.reply != nil {
		o.reply <- opResult{msg: msg}
		return
	}
	if o.client != nil {
		h.post(completion{kind: compDeliver, client: o.client, event: &Event{Kind: kind, RoomKey: msg.RoomKey, Message: msg}})
	}
}

func (h *Hub) workerSend(o op) {
	msg := &store.Message{
		RoomKey:    o.roomKey,
		SenderID:   o.userID,
		ReceiverID: o.counterpartID,
		Body:       o.body,
		CreatedAt:  time.Now().UTC(),
	}

	sctx, cancel := h.storeCtx()
	defer cancel()
	if err := h.store.CreateMessage(sctx, msg); err != nil {
		h.log.Warn().Err(err).Str("room", o.roomKey).Msg("message persist failed")
		h.workerFail(o, coreError(ErrCodeStoreUnavailable, "message not saved"))
		return
	}

	metrics.MessagesSent.Inc()
	h.conversations.ApplyCreated(msg)
	h.workerAck(o, EventMessageCreated, msg)
	h.post(completion{kind: compBroadcast, eventKind: EventMessageCreated, msg: msg, origin: o.client})
}

func (h *Hub) workerEdit(o op) {
	sctx, cancel := h.storeCtx()
	defer cancel()

	msg, cerr := h.ownedMessage(sctx, o)
	if cerr != nil {
		h.workerFail(o, cerr)
		return
	}

	if err := h.store.UpdateMessageBody(sctx, msg.ID, o.body); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.workerFail(o, coreError(ErrCodeNotFound, "unknown message"))
			return
		}
		h.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("message update failed")
		h.workerFail(o, coreError(ErrCodeStoreUnavailable, "message not updated"))
		return
	}

	updated := *msg
	updated.Body = o.body
	updated.Edited = true

	metrics.MessagesEdited.Inc()
	h.conversations.ApplyUpdated(&updated)
	h.workerAck(o, EventMessageUpdated, &updated)
	h.post(completion{kind: compBroadcast, eventKind: EventMessageUpdated, msg: &updated, origin: o.client})
}

func (h *Hub) workerDelete(o op) {
	sctx, cancel := h.storeCtx()
	defer cancel()

	msg, cerr := h.ownedMessage(sctx, o)
	if cerr != nil {
		h.workerFail(o, cerr)
		return
	}

	if err := h.store.TombstoneMessage(sctx, msg.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.workerFail(o, coreError(ErrCodeNotFound, "unknown message"))
			return
		}
		h.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("message tombstone failed")
		h.workerFail(o, coreError(ErrCodeStoreUnavailable, "message not deleted"))
		return
	}

	tombstoned := *msg
	tombstoned.Deleted = true

	metrics.MessagesDeleted.Inc()
	h.conversations.ApplyDeleted(&tombstoned)
	h.workerAck(o, EventMessageDeleted, &tombstoned)
	h.post(completion{kind: compBroadcast, eventKind: EventMessageDeleted, msg: &tombstoned, origin: o.client})
}

// ownedMessage re-reads the target message inside the room's serialized
// section and enforces the state machine: deleted is terminal, and only
// the original sender may mutate.
func (h *Hub) ownedMessage(ctx context.Context, o op) (*store.Message, *CoreError) {
	msg, err := h.store.GetMessage(ctx, o.messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeNotFound, "unknown message")
		}
		return nil, coreError(ErrCodeStoreUnavailable, "store unavailable")
	}
	if msg.Deleted {
		return nil, coreError(ErrCodeNotFound, "unknown message")
	}
	if msg.SenderID != o.userID {
		return nil, coreError(ErrCodeForbidden, "not the message sender")
	}
	return msg, nil
}

func (h *Hub) workerHistory(o op) {
	sctx, cancel := h.storeCtx()
	defer cancel()

	msgs, err := h.store.ListMessages(sctx, o.roomKey, h.historyLimit, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("room", o.roomKey).Msg("history hydrate failed")
		h.workerFail(o, coreError(ErrCodeStoreUnavailable, "history unavailable"))
		return
	}
	if o.client != nil {
		h.post(completion{kind: compDeliver, client: o.client, event: &Event{Kind: EventHistory, RoomKey: o.roomKey, Messages: msgs}})
	}
}

func (h *Hub) workerMarkRead(o op) {
	sctx, cancel := h.storeCtx()
	defer cancel()

	if err := h.store.MarkRead(sctx, o.userID, o.roomKey); err != nil {
		h.log.Warn().Err(err).Str("room", o.roomKey).Msg("mark read failed")
		h.workerFail(o, coreError(ErrCodeStoreUnavailable, "mark read failed"))
		return
	}
	h.conversations.MarkRead(o.userID, o.roomKey)
	if o.reply != nil {
		o.reply <- opResult{}
	}
	h.post(completion{kind: compMarkRead, userID: o.userID, roomKey: o.roomKey})
}
