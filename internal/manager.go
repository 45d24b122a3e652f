package internal

import (
	"log/slog"
	"strings"
	"sync"

	apperr "github.com/koopa0/boss-battle/pkg/errors"
)

// Manager 房間註冊表
//
// 系統設計考量：
//
//  1. 延遲創建、及早回收：房間在第一次 join 該房間碼時建立，
//     最後一名玩家離開的當下就連同 tick 迴圈一起拆除，
//     不存在無主計時器。
//
//  2. 二級索引（playerRoom）：連線本身不攜帶房間歸屬，
//     斷線時若全表掃描是 O(房間 × 玩家)；以 playerID → roomCode
//     的索引換 O(1) 查找，代價是 join/leave 時多維護一筆。
//
//  3. 鎖的範圍：Manager 的鎖只保護兩張映射表本身，
//     房間內部狀態由各房間自己的鎖保護，互不嵌套等待。
type Manager struct {
	rooms      map[string]*Room  // roomCode -> Room
	playerRoom map[string]string // playerID -> roomCode
	mu         sync.RWMutex

	rules  *Rules
	sched  *Scheduler
	logger *slog.Logger
}

// NewManager 創建房間註冊表
func NewManager(rules *Rules, logger *slog.Logger) *Manager {
	return &Manager{
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
		rules:      rules,
		sched:      NewScheduler(rules.TickInterval(), logger),
		logger:     logger,
	}
}

// Join 玩家加入房間；房間碼未見過時建立新房間（第一位加入者為 host）
func (m *Manager) Join(roomCode, playerID, playerName string) (*Room, error) {
	roomCode = strings.ToUpper(strings.TrimSpace(roomCode))
	if roomCode == "" || playerName == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "playerName and roomCode are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.playerRoom[playerID]; ok {
		if existing == roomCode {
			return nil, apperr.ErrDuplicateJoin
		}
		return nil, apperr.New(apperr.ErrCodeDuplicateJoin, "already in another room")
	}

	room, exists := m.rooms[roomCode]
	created := false
	if !exists {
		room = NewRoom(roomCode, playerID, m.rules)
		m.rooms[roomCode] = room
		created = true
	}

	if err := room.AddPlayer(playerID, playerName); err != nil {
		if created {
			delete(m.rooms, roomCode)
		}
		return nil, err
	}
	m.playerRoom[playerID] = roomCode

	m.logger.Info("玩家加入房間",
		"room_code", roomCode,
		"player_id", playerID,
		"player_name", playerName,
		"created", created)
	return room, nil
}

// RoomOf 依玩家 ID 查其所在房間（O(1)，斷線與遊戲中事件都走這裡）
func (m *Manager) RoomOf(playerID string) (*Room, bool) {
	m.mu.RLock()
	roomCode, ok := m.playerRoom[playerID]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	room, ok := m.rooms[roomCode]
	m.mu.RUnlock()
	return room, ok
}

// GetRoom 依房間碼查房間
func (m *Manager) GetRoom(roomCode string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomCode]
	return room, ok
}

// Leave 玩家離開；清空的房間立即移除並停掉 tick 迴圈
//
// 返回離開前所在的房間與它是否因此被拆除。
// 玩家不在任何房間時 ok 為 false（對斷線路徑而言是正常情況）。
func (m *Manager) Leave(playerID string) (room *Room, emptied bool, ok bool) {
	m.mu.Lock()
	roomCode, exists := m.playerRoom[playerID]
	if !exists {
		m.mu.Unlock()
		return nil, false, false
	}
	delete(m.playerRoom, playerID)

	room = m.rooms[roomCode]
	remaining := room.RemovePlayer(playerID)
	if remaining == 0 {
		delete(m.rooms, roomCode)
		emptied = true
	}
	m.mu.Unlock()

	// StopLoop 會等待在途的 tick 完成，必須在 Manager 鎖外呼叫
	if emptied {
		m.sched.StopLoop(roomCode)
		m.logger.Info("房間已清空移除", "room_code", roomCode)
	} else {
		m.logger.Info("玩家離開房間", "room_code", roomCode, "player_id", playerID)
	}
	return room, emptied, true
}

// StartGameLoop 為進入戰鬥的房間啟動 tick 迴圈
func (m *Manager) StartGameLoop(room *Room, sink Broadcaster) {
	m.sched.StartLoop(room, sink)
}

// StopGameLoop 停止房間的 tick 迴圈（同步，無迴圈時 no-op）
func (m *Manager) StopGameLoop(roomCode string) {
	m.sched.StopLoop(roomCode)
}

// Stop 停止註冊表：拆掉所有 tick 迴圈（服務關閉時呼叫）
func (m *Manager) Stop() {
	m.sched.Stop()
	m.logger.Info("房間註冊表已停止")
}

// Stats 統計資訊（供 /stats 使用）
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byState := make(map[RoomState]int)
	totalPlayers := 0
	for _, room := range m.rooms {
		byState[room.State()]++
		totalPlayers += room.PlayerCount()
	}

	return map[string]any{
		"total_rooms":   len(m.rooms),
		"total_players": totalPlayers,
		"by_state":      byState,
		"active_loops":  m.sched.ActiveLoops(),
	}
}
