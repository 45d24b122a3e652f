package internal

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Rules 模擬步驟的規則集合
//
// 所有平衡數值（速度、傷害、判定半徑、冷卻、階段門檻）都來自配置，
// 引擎只負責步驟順序與狀態轉換的正確性。
// Rules 本身無狀態，可被所有房間共用。
type Rules struct {
	game GameConfig
	jobs map[string]JobConfig
}

// NewRules 由配置建立規則集
func NewRules(cfg *Config) *Rules {
	return &Rules{
		game: cfg.Game,
		jobs: cfg.Jobs,
	}
}

// MaxPlayers 每房人數上限
func (ru *Rules) MaxPlayers() int { return ru.game.MaxPlayersPerRoom }

// TickInterval 模擬步進間隔
func (ru *Rules) TickInterval() time.Duration { return ru.game.TickInterval }

// ValidJob 職業 ID 是否存在
func (ru *Rules) ValidJob(jobID string) bool {
	_, ok := ru.jobs[jobID]
	return ok
}

// Skill 查詢職業技能配置
func (ru *Rules) Skill(jobID, skillID string) (SkillConfig, bool) {
	job, ok := ru.jobs[jobID]
	if !ok {
		return SkillConfig{}, false
	}
	sk, ok := job.Skills[skillID]
	return sk, ok
}

// NewBoss 依配置生成新的魔王實體
func (ru *Rules) NewBoss() *Boss {
	b := ru.game.Boss
	return &Boss{
		ID:    b.ID,
		HP:    b.MaxHP,
		MaxHP: b.MaxHP,
		X:     b.X,
		Y:     b.Y,
		Phase: 1,
	}
}

// InitPlayer 依職業配置初始化玩家的戰鬥數值與出生點
//
// 出生點沿戰場下緣均分，避免開場重疊。
func (ru *Rules) InitPlayer(p *Player, index, total int) {
	job := ru.jobs[p.Job]
	p.HP = job.MaxHP
	p.MaxHP = job.MaxHP
	p.Speed = job.Speed
	p.AttackDmg = job.Attack.Damage
	p.AttackRng = job.Attack.Range
	p.AttackRad = job.Attack.Radius

	w := ru.game.Playfield.Width
	p.X = w * float64(index+1) / float64(total+1)
	p.Y = ru.game.Playfield.Height * 0.85

	p.MoveX, p.MoveY, p.HasMove = 0, 0, false
	p.PendingAttacks = nil
	for k := range p.Cooldowns {
		delete(p.Cooldowns, k)
	}
}

// Step 執行一個模擬步驟，返回本次產生的事件與終局結果（空字串表示未分勝負）
//
// 步驟順序有意義：移動與魔王 AI 先於碰撞，碰撞以本 tick 的座標為準；
// 冷卻遞減與順序無關，放在最後。呼叫端（Room.Tick）持有房間鎖，
// 整個步驟對外原子。
func (ru *Rules) Step(r *Room, dt time.Duration) ([]Event, string) {
	var events []Event

	ru.integrateMovement(r, dt)
	ru.updateBoss(r, dt)
	ru.updateProjectiles(r, dt)
	events = append(events, ru.resolveCollisions(r)...)
	ru.decayCooldowns(r, dt)

	return events, ru.evaluateTerminal(r)
}

// integrateMovement 消耗待處理的方向輸入，位移並夾在戰場邊界內
func (ru *Rules) integrateMovement(r *Room, dt time.Duration) {
	seconds := dt.Seconds()
	for _, p := range r.players {
		if !p.HasMove || !p.Alive() {
			continue
		}
		p.X = clamp(p.X+p.MoveX*p.Speed*seconds, 0, ru.game.Playfield.Width)
		p.Y = clamp(p.Y+p.MoveY*p.Speed*seconds, 0, ru.game.Playfield.Height)
		p.MoveX, p.MoveY, p.HasMove = 0, 0, false
	}
}

// updateBoss 推進魔王階段與攻擊模式
//
// 階段由 HP 比例門檻決定且只增不減；攻擊模式依階段輪替，
// 每隔 Interval 朝四周發射一輪環狀彈幕。
func (ru *Rules) updateBoss(r *Room, dt time.Duration) {
	boss := r.boss

	if phase := ru.phaseFor(boss.HP, boss.MaxHP); phase > boss.Phase {
		boss.Phase = phase
		boss.attackTimer = 0 // 進入新階段立即重新計時
	}

	attack := ru.game.Boss.Attacks[(boss.Phase-1)%len(ru.game.Boss.Attacks)]
	boss.CurrentAttack = attack.Name

	boss.attackTimer += dt
	if boss.attackTimer < attack.Interval {
		return
	}
	boss.attackTimer -= attack.Interval

	for i := 0; i < attack.Count; i++ {
		angle := 2 * math.Pi * float64(i) / float64(attack.Count)
		r.projectiles = append(r.projectiles, &Projectile{
			ID:     uuid.NewString(),
			Type:   attack.Projectile,
			Owner:  boss.ID,
			X:      boss.X,
			Y:      boss.Y,
			Angle:  angle,
			Speed:  attack.Speed,
			Damage: attack.Damage,
			Radius: attack.Radius,
			TTL:    attack.TTL,
		})
	}
}

// phaseFor 由 HP 比例計算應處階段（1 起算）
func (ru *Rules) phaseFor(hp, maxHP int) int {
	frac := float64(hp) / float64(maxHP)
	phase := 1
	for _, threshold := range ru.game.Boss.PhaseThresholds {
		if frac <= threshold {
			phase++
		}
	}
	return phase
}

// updateProjectiles 沿航向推進彈幕，移除過期或出界者
func (ru *Rules) updateProjectiles(r *Room, dt time.Duration) {
	seconds := dt.Seconds()
	kept := r.projectiles[:0]
	for _, pr := range r.projectiles {
		pr.X += math.Cos(pr.Angle) * pr.Speed * seconds
		pr.Y += math.Sin(pr.Angle) * pr.Speed * seconds
		pr.TTL -= dt

		if pr.TTL <= 0 || ru.outOfBounds(pr.X, pr.Y) {
			continue
		}
		kept = append(kept, pr)
	}
	r.projectiles = kept
}

func (ru *Rules) outOfBounds(x, y float64) bool {
	return x < 0 || y < 0 || x > ru.game.Playfield.Width || y > ru.game.Playfield.Height
}

// resolveCollisions 結算彈幕對玩家、玩家攻擊對魔王的傷害
//
// HP 永遠夾在 [0, maxHp]。倒地玩家（HP = 0）不再承受也不再造成傷害，
// 但仍留在房間與快照中。
func (ru *Rules) resolveCollisions(r *Room) []Event {
	var events []Event
	boss := r.boss

	// 以排序後的玩家順序結算，讓同一輸入序列的結果可重現
	ids := r.sortedPlayerIDsLocked()

	// 魔王彈幕 vs 玩家
	kept := r.projectiles[:0]
	for _, pr := range r.projectiles {
		hit := false
		if pr.Owner == boss.ID {
			for _, id := range ids {
				p := r.players[id]
				if !p.Alive() {
					continue
				}
				if dist(pr.X, pr.Y, p.X, p.Y) <= pr.Radius {
					p.HP = clampInt(p.HP-pr.Damage, 0, p.MaxHP)
					hit = true
					break
				}
			}
		} else if boss.HP > 0 && dist(pr.X, pr.Y, boss.X, boss.Y) <= pr.Radius {
			// 玩家彈幕 vs 魔王
			boss.HP = clampInt(boss.HP-pr.Damage, 0, boss.MaxHP)
			events = append(events, Event{
				Event: EvBossDamaged,
				Data:  BossDamagedPayload{DamageAmount: pr.Damage, RemainingHP: boss.HP},
			})
			hit = true
		}
		if !hit {
			kept = append(kept, pr)
		}
	}
	r.projectiles = kept

	// 玩家待結算攻擊
	for _, id := range ids {
		p := r.players[id]
		pending := p.PendingAttacks
		p.PendingAttacks = nil
		if !p.Alive() {
			continue
		}
		for _, in := range pending {
			events = append(events, ru.resolveAttack(r, p, in)...)
		}
	}

	return events
}

// resolveAttack 結算單次攻擊（排入順序即結算順序）
func (ru *Rules) resolveAttack(r *Room, p *Player, in AttackInput) []Event {
	boss := r.boss

	switch in.Type {
	case "normal":
		// 命中條件：魔王在射程內，且瞄準點落在判定半徑內
		if boss.HP > 0 &&
			dist(p.X, p.Y, boss.X, boss.Y) <= p.AttackRng &&
			dist(in.AimX, in.AimY, boss.X, boss.Y) <= p.AttackRad {
			boss.HP = clampInt(boss.HP-p.AttackDmg, 0, boss.MaxHP)
			return []Event{{
				Event: EvBossDamaged,
				Data:  BossDamagedPayload{DamageAmount: p.AttackDmg, RemainingHP: boss.HP},
			}}
		}
	case "skill":
		skill, ok := ru.Skill(p.Job, in.SkillID)
		if !ok {
			return nil
		}
		if skill.Projectile != "" {
			// 生成朝瞄準點飛行的玩家彈幕
			r.projectiles = append(r.projectiles, &Projectile{
				ID:     uuid.NewString(),
				Type:   skill.Projectile,
				Owner:  p.ID,
				X:      p.X,
				Y:      p.Y,
				Angle:  math.Atan2(in.AimY-p.Y, in.AimX-p.X),
				Speed:  skill.Speed,
				Damage: skill.Damage,
				Radius: skill.Radius,
				TTL:    skill.TTL,
			})
			return nil
		}
		if skill.Damage < 0 {
			// 治療：瞄準點半徑內的存活隊友回復 HP
			heal := -skill.Damage
			for _, ally := range r.players {
				if ally.Alive() && dist(in.AimX, in.AimY, ally.X, ally.Y) <= skill.Radius {
					ally.HP = clampInt(ally.HP+heal, 0, ally.MaxHP)
				}
			}
			return nil
		}
		// 立即結算的範圍傷害
		if boss.HP > 0 && dist(in.AimX, in.AimY, boss.X, boss.Y) <= skill.Radius {
			boss.HP = clampInt(boss.HP-skill.Damage, 0, boss.MaxHP)
			return []Event{{
				Event: EvBossDamaged,
				Data:  BossDamagedPayload{DamageAmount: skill.Damage, RemainingHP: boss.HP},
			}}
		}
	}
	return nil
}

// decayCooldowns 所有玩家的技能冷卻遞減 dt，下限為零
func (ru *Rules) decayCooldowns(r *Room, dt time.Duration) {
	for _, p := range r.players {
		for id, remaining := range p.Cooldowns {
			remaining -= dt
			if remaining <= 0 {
				delete(p.Cooldowns, id)
				continue
			}
			p.Cooldowns[id] = remaining
		}
	}
}

// evaluateTerminal 勝負判定：魔王倒下為勝，全員倒地為敗
func (ru *Rules) evaluateTerminal(r *Room) string {
	if r.boss.HP <= 0 {
		return ResultWin
	}
	for _, p := range r.players {
		if p.Alive() {
			return ""
		}
	}
	if len(r.players) == 0 {
		return ""
	}
	return ResultLose
}

// --- 幾何輔助 ---

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalize 將方向向量正規化為單位長度；零向量原樣返回
func normalize(vx, vy float64) (float64, float64) {
	length := math.Hypot(vx, vy)
	if length == 0 {
		return 0, 0
	}
	return vx / length, vy / length
}
