package internal

import (
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   每個進入戰鬥的房間需要一個獨立的固定頻率驅動器，
//   啟動要冪等（不能出現兩個計時器）、停止要同步
//   （Stop 返回後保證不再有任何 tick 執行）。
//
// 設計方案：
//   每個房間一個 goroutine + time.Ticker；
//   停止用 stop channel 通知、done channel 等待退出，
//   已在途的那一次 tick 允許跑完（至多一次）。

// Broadcaster tick 產出的對外出口
//
// 由 Session Gateway（Hub）實作；Scheduler 只依賴這個最小介面，
// 避免與傳輸層互相引用。
type Broadcaster interface {
	BroadcastToRoom(roomCode string, ev Event)
}

// Scheduler 管理所有房間的 tick 迴圈
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	loops map[string]*tickLoop // roomCode -> loop
}

// tickLoop 單一房間的迴圈控制
type tickLoop struct {
	stopCh chan struct{}
	done   chan struct{}
}

// NewScheduler 創建 tick 排程器
func NewScheduler(interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		logger:   logger,
		loops:    make(map[string]*tickLoop),
	}
}

// StartLoop 為房間啟動 tick 迴圈
//
// 已有迴圈時先同步停掉舊的再換新的（冪等重啟，永不重複計時）。
// 每次觸發依序：模擬步驟 → 廣播戰鬥快照 → 附加事件 →
// 若觸發終局則廣播一次 gameOver 並自行退出。
func (s *Scheduler) StartLoop(room *Room, sink Broadcaster) {
	s.mu.Lock()
	if old, exists := s.loops[room.Code()]; exists {
		s.mu.Unlock()
		s.stopAndWait(room.Code(), old)
		s.mu.Lock()
	}

	loop := &tickLoop{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.loops[room.Code()] = loop
	s.mu.Unlock()

	s.logger.Info("tick 迴圈啟動", "room_code", room.Code(), "interval", s.interval)
	go s.run(room, sink, loop)
}

// StopLoop 停止房間的 tick 迴圈
//
// 同步語義：返回後保證不再有任何 tick 執行。
// 沒有迴圈在跑時為安全的 no-op。
func (s *Scheduler) StopLoop(roomCode string) {
	s.mu.Lock()
	loop, exists := s.loops[roomCode]
	s.mu.Unlock()
	if !exists {
		return
	}
	s.stopAndWait(roomCode, loop)
}

func (s *Scheduler) stopAndWait(roomCode string, loop *tickLoop) {
	select {
	case <-loop.stopCh:
		// 已在停止中，只需等待
	default:
		close(loop.stopCh)
	}
	<-loop.done

	s.mu.Lock()
	if s.loops[roomCode] == loop {
		delete(s.loops, roomCode)
	}
	s.mu.Unlock()
}

// Stop 停止所有迴圈（服務關閉時呼叫）
func (s *Scheduler) Stop() {
	s.mu.Lock()
	loops := make(map[string]*tickLoop, len(s.loops))
	for code, loop := range s.loops {
		loops[code] = loop
	}
	s.mu.Unlock()

	for code, loop := range loops {
		s.stopAndWait(code, loop)
	}
	s.logger.Info("tick 排程器已停止")
}

// ActiveLoops 進行中的迴圈數（供 /stats 與測試使用）
func (s *Scheduler) ActiveLoops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// run 單一房間的迴圈本體
func (s *Scheduler) run(room *Room, sink Broadcaster, loop *tickLoop) {
	defer close(loop.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loop.stopCh:
			return
		case <-ticker.C:
			report := room.Tick(s.interval)
			if !report.Running {
				// 房間已離開 game 狀態（例如斷線路徑先觸發了終局）
				s.removeSelf(room.Code(), loop)
				return
			}

			sink.BroadcastToRoom(room.Code(), Event{Event: EvGameStateUpdate, Data: report.Snapshot})
			for _, ev := range report.Events {
				sink.BroadcastToRoom(room.Code(), ev)
			}

			if report.Result != "" {
				sink.BroadcastToRoom(room.Code(), Event{Event: EvGameOver, Data: gameOverPayload{Result: report.Result}})
				s.logger.Info("戰鬥結束", "room_code", room.Code(), "result", report.Result)
				s.removeSelf(room.Code(), loop)
				return
			}
		}
	}
}

// removeSelf 迴圈自行退出時從表中移除自己；
// 與 StopLoop 競爭時以先到者為準（stopAndWait 會檢查同一性）
func (s *Scheduler) removeSelf(roomCode string, loop *tickLoop) {
	s.mu.Lock()
	if s.loops[roomCode] == loop {
		delete(s.loops, roomCode)
	}
	s.mu.Unlock()
}
