package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperr "github.com/koopa0/boss-battle/pkg/errors"
)

// 系統設計問題：
//   如何把連線上的命名事件對應到房間操作，並把 tick 產出的快照
//   廣播給房間全員，而不讓任何一個慢客戶端拖住 tick 節奏？
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理連線，兩層映射支援房間級廣播
//   ✅ 緩衝 Send channel - 非阻塞扇出，滿了就丟（即時性優先）
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 連線配一個 UUID 作為玩家 ID，身分僅及於連線存續期間

// Hub Session Gateway：連線事件與房間操作的邊界
type Hub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// conns 所有存活連線；rooms 依房間碼分組，供廣播扇出
	conns map[string]*Connection            // playerID -> Connection
	rooms map[string]map[string]*Connection // roomCode -> playerID -> Connection
	mu    sync.RWMutex
}

// Connection 單一客戶端連線
type Connection struct {
	PlayerID string
	roomCode string // 加入房間後由 Hub 在其鎖內設定

	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub
	closeOnce sync.Once // 確保 Send 只關閉一次
}

// NewHub 創建 Session Gateway
func NewHub(manager *Manager, allowedOrigins []string, logger *slog.Logger) *Hub {
	hub := &Hub{
		manager: manager,
		logger:  logger,
		conns:   make(map[string]*Connection),
		rooms:   make(map[string]map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return hub
}

// originChecker 依允許清單檢查跨來源請求；同源永遠放行
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS 處理 WebSocket 接入
//
// 升級當下配發連線範圍的玩家 ID；身分不跨連線存續，
// 重連視為全新玩家。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	conn := &Connection{
		PlayerID: uuid.NewString(),
		Conn:     ws,
		Send:     make(chan []byte, 256),
		Hub:      hub,
	}

	hub.mu.Lock()
	hub.conns[conn.PlayerID] = conn
	hub.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	hub.logger.Info("連線建立", "player_id", conn.PlayerID)
}

// BroadcastToRoom 向房間全員廣播事件
//
// 每個連線走各自的緩衝 Send channel，滿了立即跳過該連線：
// 廣播呼叫端（含 tick 迴圈）永不阻塞。
func (hub *Hub) BroadcastToRoom(roomCode string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.rooms[roomCode] {
		select {
		case conn.Send <- data:
		default:
			hub.logger.Warn("連線緩衝區滿，丟棄事件",
				"room_code", roomCode,
				"player_id", conn.PlayerID,
				"event", ev.Event)
		}
	}
}

// sendTo 只發給單一連線
func (hub *Hub) sendTo(conn *Connection, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Event, "error", err)
		return
	}
	select {
	case conn.Send <- data:
	default:
	}
}

// sendError 將應用程式錯誤轉為 errorMessage 事件，只回給出錯的連線
func (hub *Hub) sendError(conn *Connection, err error) {
	hub.sendTo(conn, Event{
		Event: EvErrorMessage,
		Data: errorMessagePayload{
			Code:    apperr.CodeOf(err),
			Message: apperr.MessageOf(err),
		},
	})
}

// ConnectionCount 存活連線數（供 /stats 使用）
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Stop 關閉所有連線（服務關閉時呼叫）
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.conns {
		conn.closeOnce.Do(func() { close(conn.Send) })
		conn.Conn.Close()
	}
	hub.conns = make(map[string]*Connection)
	hub.rooms = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("Session Gateway 已停止")
}

// --- 事件分派 ---

// dispatch 將入站訊息分派到對應的處理函式
//
// 每個事件對當前狀態評估一次：被拒絕就回 errorMessage，
// 不排隊也不重試。
func (hub *Hub) dispatch(conn *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed message"))
		return
	}

	switch msg.Event {
	case EvJoinRoom:
		hub.handleJoinRoom(conn, msg.Data)
	case EvSelectJob:
		hub.handleSelectJob(conn, msg.Data)
	case EvSetReady:
		hub.handleSetReady(conn, msg.Data)
	case EvPlayerMove:
		hub.handlePlayerMove(conn, msg.Data)
	case EvPlayerAttack:
		hub.handlePlayerAttack(conn, msg.Data)
	default:
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "unknown event: "+msg.Event))
	}
}

func (hub *Hub) handleJoinRoom(conn *Connection, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed joinRoom payload"))
		return
	}

	room, err := hub.manager.Join(p.RoomCode, conn.PlayerID, p.PlayerName)
	if err != nil {
		hub.sendError(conn, err)
		return
	}

	hub.mu.Lock()
	if hub.rooms[room.Code()] == nil {
		hub.rooms[room.Code()] = make(map[string]*Connection)
	}
	hub.rooms[room.Code()][conn.PlayerID] = conn
	conn.roomCode = room.Code()
	hub.mu.Unlock()

	hub.sendTo(conn, Event{
		Event: EvJoinRoomSuccess,
		Data:  joinRoomSuccessPayload{PlayerID: conn.PlayerID, RoomCode: room.Code()},
	})
	hub.BroadcastToRoom(room.Code(), Event{Event: EvRoomUpdate, Data: room.LobbySnapshot()})
}

func (hub *Hub) handleSelectJob(conn *Connection, data json.RawMessage) {
	var p selectJobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed selectJob payload"))
		return
	}

	room, ok := hub.manager.RoomOf(conn.PlayerID)
	if !ok {
		hub.sendError(conn, apperr.ErrPlayerNotFound)
		return
	}
	if err := room.SetJob(conn.PlayerID, p.JobID); err != nil {
		hub.sendError(conn, err)
		return
	}
	hub.BroadcastToRoom(room.Code(), Event{Event: EvRoomUpdate, Data: room.LobbySnapshot()})
}

func (hub *Hub) handleSetReady(conn *Connection, data json.RawMessage) {
	var p setReadyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed setReady payload"))
		return
	}

	room, ok := hub.manager.RoomOf(conn.PlayerID)
	if !ok {
		hub.sendError(conn, apperr.ErrPlayerNotFound)
		return
	}
	if err := room.SetReady(conn.PlayerID, p.IsReady); err != nil {
		hub.sendError(conn, err)
		return
	}
	hub.BroadcastToRoom(room.Code(), Event{Event: EvRoomUpdate, Data: room.LobbySnapshot()})

	if !room.AllReady() {
		return
	}
	// Start 在鎖內重新驗證；兩個 setReady 競爭時只有一方成功，
	// 另一方拿到 InvalidState，靜默即可（gameStart 恰好一次）。
	start, err := room.Start()
	if err != nil {
		return
	}
	hub.logger.Info("全員就緒，戰鬥開始", "room_code", room.Code())
	hub.BroadcastToRoom(room.Code(), Event{Event: EvGameStart, Data: start})
	hub.manager.StartGameLoop(room, hub)
}

func (hub *Hub) handlePlayerMove(conn *Connection, data json.RawMessage) {
	var p playerMovePayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed playerMove payload"))
		return
	}

	room, ok := hub.manager.RoomOf(conn.PlayerID)
	if !ok {
		hub.sendError(conn, apperr.ErrPlayerNotFound)
		return
	}
	if err := room.SetMoveIntent(conn.PlayerID, p.VX, p.VY); err != nil {
		hub.sendError(conn, err)
	}
}

func (hub *Hub) handlePlayerAttack(conn *Connection, data json.RawMessage) {
	var p playerAttackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		hub.sendError(conn, apperr.New(apperr.ErrCodeInvalidInput, "malformed playerAttack payload"))
		return
	}

	room, ok := hub.manager.RoomOf(conn.PlayerID)
	if !ok {
		hub.sendError(conn, apperr.ErrPlayerNotFound)
		return
	}
	feedback, err := room.QueueAttack(conn.PlayerID, AttackInput{
		Type:    p.Type,
		SkillID: p.SkillID,
		AimX:    p.AimX,
		AimY:    p.AimY,
	})
	if err != nil {
		hub.sendError(conn, err)
		return
	}
	if feedback != nil {
		hub.sendTo(conn, Event{Event: EvAttackFeedback, Data: feedback})
	}
}

// handleDisconnect 連線結束：移除連線、離開房間、必要時拆房或判負
func (hub *Hub) handleDisconnect(conn *Connection) {
	hub.mu.Lock()
	delete(hub.conns, conn.PlayerID)
	conn.closeOnce.Do(func() { close(conn.Send) }) // 讓 writePump 立即退出
	if conn.roomCode != "" {
		if roomConns, ok := hub.rooms[conn.roomCode]; ok {
			delete(roomConns, conn.PlayerID)
			if len(roomConns) == 0 {
				delete(hub.rooms, conn.roomCode)
			}
		}
	}
	hub.mu.Unlock()

	room, emptied, ok := hub.manager.Leave(conn.PlayerID)
	if !ok {
		return // 從未加入任何房間
	}
	if emptied {
		// 房間與迴圈已由 Manager 拆除；沒有任何人需要收尾通知
		return
	}

	hub.BroadcastToRoom(room.Code(), Event{Event: EvRoomUpdate, Data: room.LobbySnapshot()})
	hub.BroadcastToRoom(room.Code(), Event{
		Event: EvPlayerDisconnected,
		Data:  playerDisconnectedPayload{PlayerID: conn.PlayerID},
	})

	// 斷線可能使「全員倒地」成立，與戰鬥傷害走完全相同的終局路徑
	if room.FinishIfAllDead() {
		hub.BroadcastToRoom(room.Code(), Event{Event: EvGameOver, Data: gameOverPayload{Result: ResultLose}})
		hub.manager.StopGameLoop(room.Code())
		hub.logger.Info("戰鬥因斷線結束", "room_code", room.Code(), "result", ResultLose)
	}
}

// --- 讀寫泵 ---

// readPump 讀取客戶端訊息並分派；讀錯誤即視為斷線
//
// 心跳：60 秒沒有任何訊息（含 Pong）就關閉連線，
// 配合 writePump 的 54 秒 Ping 留 6 秒餘量。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.handleDisconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "error", err, "player_id", c.PlayerID)
			}
			break
		}
		if messageType == websocket.TextMessage {
			c.Hub.dispatch(c, message)
		}
	}
}

// writePump 將 Send 佇列寫出到連線，並定期發送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，送出關閉幀後結束
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出佇列中剩餘的訊息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
