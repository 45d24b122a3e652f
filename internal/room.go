package internal

import (
	"sort"
	"sync"
	"time"

	apperr "github.com/koopa0/boss-battle/pkg/errors"
)

// 系統設計問題：
//   如何讓連線事件（加入、選職業、移動）與固定頻率的模擬 tick
//   安全地共用同一份房間狀態？
//
// 設計方案：
//   每個房間一把互斥鎖，所有讀寫操作都在鎖內完成；
//   不同房間之間完全不共享鎖，彼此獨立推進。
//   鎖內不做任何無界延遲的工作（廣播由 Hub 在鎖外執行）。

// RoomState 房間狀態
//
// 有限狀態機：lobby → game → result，單向不可逆。
// 同一個房間碼要重新開局，必須等房間清空後重建。
type RoomState string

const (
	StateLobby  RoomState = "lobby"  // 等待選職業、準備
	StateGame   RoomState = "game"   // 戰鬥進行中，tick 驅動
	StateResult RoomState = "result" // 已分出勝負
)

// 終局結果
const (
	ResultWin  = "win"
	ResultLose = "lose"
)

// Room 一場遊戲會話：房間碼、狀態機與權威實體集
//
// 玩家、魔王與彈幕都由 Room 獨占持有，外部只能透過
// 快照取得它們的唯讀視圖。
type Room struct {
	code   string
	hostID string // 創建者的連線 ID，僅供顯示，無額外權限

	state  RoomState
	result string // 終局結果，finish 之後不再改寫

	players     map[string]*Player
	boss        *Boss
	projectiles []*Projectile

	rules *Rules

	mu sync.Mutex
}

// NewRoom 創建房間，初始為 lobby 狀態
func NewRoom(code, hostID string, rules *Rules) *Room {
	return &Room{
		code:    code,
		hostID:  hostID,
		state:   StateLobby,
		players: make(map[string]*Player),
		rules:   rules,
	}
}

// Code 房間碼
func (r *Room) Code() string { return r.code }

// HostID 創建者的連線 ID
func (r *Room) HostID() string { return r.hostID }

// State 當前狀態
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PlayerCount 玩家數量
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// AddPlayer 加入玩家
//
// 只允許在 lobby 狀態加入；戰鬥中與結算中的房間不收新玩家。
func (r *Room) AddPlayer(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLobby {
		return apperr.ErrInvalidState
	}
	if _, exists := r.players[id]; exists {
		return apperr.ErrDuplicateJoin
	}
	if len(r.players) >= r.rules.MaxPlayers() {
		return apperr.ErrRoomFull
	}

	// HP 與位置等戰鬥數值在 Start 時才依職業配置初始化，
	// 大廳階段用不到。
	r.players[id] = &Player{
		ID:        id,
		Name:      name,
		Cooldowns: make(map[string]time.Duration),
	}
	return nil
}

// RemovePlayer 移除玩家，返回剩餘人數；玩家不存在時為 no-op
func (r *Room) RemovePlayer(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.players, id)
	return len(r.players)
}

// SetJob 設定玩家職業（僅限 lobby）
//
// 未知職業與已被其他玩家選走的職業都會被拒絕，名冊不變。
func (r *Room) SetJob(playerID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLobby {
		return apperr.ErrInvalidState
	}
	p, ok := r.players[playerID]
	if !ok {
		return apperr.ErrPlayerNotFound
	}
	if !r.rules.ValidJob(jobID) {
		return apperr.ErrInvalidJob
	}
	for _, other := range r.players {
		if other.ID != playerID && other.Job == jobID {
			return apperr.ErrJobTaken
		}
	}

	p.Job = jobID
	return nil
}

// SetReady 設定準備狀態（僅限 lobby）
func (r *Room) SetReady(playerID string, isReady bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLobby {
		return apperr.ErrInvalidState
	}
	p, ok := r.players[playerID]
	if !ok {
		return apperr.ErrPlayerNotFound
	}

	p.IsReady = isReady
	return nil
}

// AllReady 是否全員已準備且都選好職業（空房間視為未就緒）
func (r *Room) AllReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allReadyLocked()
}

func (r *Room) allReadyLocked() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.IsReady || p.Job == "" {
			return false
		}
	}
	return true
}

// Start 執行 lobby → game 轉換
//
// 在鎖內重新驗證就緒條件（呼叫端的 AllReady 檢查可能已過期），
// 重置魔王與彈幕，依職業配置初始化玩家數值與出生點，
// 並返回要隨 gameStart 廣播的初始狀態。
func (r *Room) Start() (*GameStartPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLobby || !r.allReadyLocked() {
		return nil, apperr.ErrInvalidState
	}

	r.state = StateGame
	r.boss = r.rules.NewBoss()
	r.projectiles = nil

	ids := r.sortedPlayerIDsLocked()
	initial := make([]InitialPlayerState, 0, len(ids))
	for i, id := range ids {
		p := r.players[id]
		r.rules.InitPlayer(p, i, len(ids))
		initial = append(initial, InitialPlayerState{
			ID:    p.ID,
			HP:    p.HP,
			MaxHP: p.MaxHP,
			X:     p.X,
			Y:     p.Y,
			Job:   p.Job,
		})
	}

	return &GameStartPayload{
		InitialBossState: InitialBossState{
			ID:    r.boss.ID,
			HP:    r.boss.HP,
			MaxHP: r.boss.MaxHP,
			X:     r.boss.X,
			Y:     r.boss.Y,
			Phase: r.boss.Phase,
		},
		InitialPlayerStates: initial,
	}, nil
}

// SetMoveIntent 記錄移動意圖，下一次 tick 生效（僅限 game）
//
// 方向向量在此防禦性正規化，惡意載荷無法換得超速。
func (r *Room) SetMoveIntent(playerID string, vx, vy float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateGame {
		return apperr.ErrInvalidState
	}
	p, ok := r.players[playerID]
	if !ok {
		return apperr.ErrPlayerNotFound
	}
	if !p.Alive() {
		return nil // 倒地的玩家不再行動，但不算協議錯誤
	}

	p.MoveX, p.MoveY = normalize(vx, vy)
	p.HasMove = p.MoveX != 0 || p.MoveY != 0
	return nil
}

// QueueAttack 排入一次攻擊，於下一次 tick 的碰撞階段結算（僅限 game）
//
// 技能在排入當下就檢查並啟動冷卻，回傳只發給施放者的 feedback；
// 普通攻擊沒有 feedback。倒地玩家的攻擊被靜默丟棄。
func (r *Room) QueueAttack(playerID string, in AttackInput) (*AttackFeedbackPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateGame {
		return nil, apperr.ErrInvalidState
	}
	p, ok := r.players[playerID]
	if !ok {
		return nil, apperr.ErrPlayerNotFound
	}
	if !p.Alive() {
		return nil, nil
	}

	switch in.Type {
	case "normal":
		p.PendingAttacks = append(p.PendingAttacks, in)
		return nil, nil
	case "skill":
		skill, ok := r.rules.Skill(p.Job, in.SkillID)
		if !ok {
			return &AttackFeedbackPayload{Success: false, Reason: "UnknownSkill"}, nil
		}
		if remaining := p.Cooldowns[in.SkillID]; remaining > 0 {
			return &AttackFeedbackPayload{
				Success:           false,
				Reason:            "OnCooldown",
				CooldownRemaining: remaining.Seconds(),
			}, nil
		}
		p.Cooldowns[in.SkillID] = skill.Cooldown
		p.PendingAttacks = append(p.PendingAttacks, in)
		return &AttackFeedbackPayload{Success: true}, nil
	default:
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "unknown attack type")
	}
}

// TickReport 一次 tick 的產出
type TickReport struct {
	// Running 為 false 表示房間已不在 game 狀態，tick 驅動應停止
	Running bool
	// Snapshot 本次 tick 結束後的權威快照
	Snapshot *GameSnapshot
	// Events 本次 tick 產生的附加事件（如 bossDamaged），廣播給全房間
	Events []Event
	// Result 非空表示本次 tick 觸發了終局（win/lose），只會出現一次
	Result string
}

// Tick 推進一個模擬步驟
//
// 整個步驟在鎖內原子完成：外部永遠看不到半套用的狀態。
// 房間已離開 game 狀態時為 no-op（與停止中的 tick 驅動競爭是安全的）。
func (r *Room) Tick(dt time.Duration) TickReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateGame {
		return TickReport{Running: false}
	}

	events, result := r.rules.Step(r, dt)
	if result != "" {
		r.finishLocked(result)
	}

	snap := r.gameSnapshotLocked()
	return TickReport{
		Running:  true,
		Snapshot: &snap,
		Events:   events,
		Result:   result,
	}
}

// FinishIfAllDead 斷線後重新評估敗北條件
//
// 只有本次呼叫真正完成 game → result 轉換時才返回 true，
// 保證 gameOver 恰好發送一次（tick 與斷線路徑不會重複觸發）。
func (r *Room) FinishIfAllDead() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateGame || len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if p.Alive() {
			return false
		}
	}
	r.finishLocked(ResultLose)
	return true
}

// finishLocked 執行 game → result 轉換；呼叫端必須持鎖且狀態為 game
func (r *Room) finishLocked(result string) {
	r.state = StateResult
	r.result = result
}

// Result 終局結果；尚未分出勝負時為空字串
func (r *Room) Result() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// LobbySnapshot 大廳視圖：名冊、職業與準備狀態（不含位置與 HP）
func (r *Room) LobbySnapshot() LobbySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]LobbyPlayerView, 0, len(r.players))
	for _, id := range r.sortedPlayerIDsLocked() {
		p := r.players[id]
		views = append(views, LobbyPlayerView{
			ID:      p.ID,
			Name:    p.Name,
			Job:     nilIfEmpty(p.Job),
			IsReady: p.IsReady,
		})
	}
	return LobbySnapshot{
		Players:  views,
		RoomCode: r.code,
		HostID:   r.hostID,
	}
}

// GameSnapshot 戰鬥視圖：玩家位置與 HP、魔王、所有彈幕
func (r *Room) GameSnapshot() GameSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gameSnapshotLocked()
}

func (r *Room) gameSnapshotLocked() GameSnapshot {
	players := make([]GamePlayerView, 0, len(r.players))
	for _, id := range r.sortedPlayerIDsLocked() {
		p := r.players[id]
		players = append(players, GamePlayerView{ID: p.ID, X: p.X, Y: p.Y, HP: p.HP})
	}

	projectiles := make([]ProjectileView, 0, len(r.projectiles))
	for _, pr := range r.projectiles {
		projectiles = append(projectiles, ProjectileView{
			ID:    pr.ID,
			Type:  pr.Type,
			X:     pr.X,
			Y:     pr.Y,
			Angle: pr.Angle,
		})
	}

	return GameSnapshot{
		Players: players,
		Boss: BossView{
			HP:            r.boss.HP,
			X:             r.boss.X,
			Y:             r.boss.Y,
			CurrentAttack: nilIfEmpty(r.boss.CurrentAttack),
			Phase:         r.boss.Phase,
		},
		Projectiles: projectiles,
	}
}

// sortedPlayerIDsLocked 以 ID 排序，讓快照輸出穩定
func (r *Room) sortedPlayerIDsLocked() []string {
	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
