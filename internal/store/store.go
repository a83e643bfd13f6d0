// Package store 是房间状态存储：房间、参与者、消息以及身份 token 对应的会话。
// 所有过滤查询都按 id 升序返回，即创建顺序。
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/d1618033/simplechat/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// advisory lock 的 key，每个串行化的 id 空间一个。
const (
	lockParticipants int64 = 0x5c_0001
	lockMessages     int64 = 0x5c_0002
)

// Store 是聊天网关依赖的存储接口。
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	ListRooms(ctx context.Context, limit int) ([]models.Room, error)

	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id uint) (*models.Participant, error)
	FindParticipants(ctx context.Context, ids []uint) ([]models.Participant, error)
	FilterParticipants(ctx context.Context, roomID uint, f ParticipantFilter) ([]models.Participant, error)
	DeactivateParticipant(ctx context.Context, id uint) error

	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	FilterMessages(ctx context.Context, roomID uint, f MessageFilter) ([]models.Message, error)

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RevokeSessions(ctx context.Context, participantID uint) error
}

type ParticipantFilter struct {
	ActiveOnly bool
}

// MessageFilter 过滤房间消息，SinceID 为闭区间。
type MessageFilter struct {
	SinceID *uint
}

// GormStore 基于 gorm 实现 Store。分配 id 的写操作串行执行，保证提交顺序与 id 顺序一致。
type GormStore struct {
	db *gorm.DB

	participantMu sync.Mutex
	messageMu     sync.Mutex
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *GormStore) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, notFound(err, "get room")
	}
	return &room, nil
}

func (s *GormStore) ListRooms(ctx context.Context, limit int) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *GormStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	s.participantMu.Lock()
	defer s.participantMu.Unlock()
	err := s.serialized(ctx, lockParticipants, func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *GormStore) GetParticipant(ctx context.Context, id uint) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "get participant")
	}
	return &p, nil
}

func (s *GormStore) FindParticipants(ctx context.Context, ids []uint) ([]models.Participant, error) {
	var out []models.Participant
	if len(ids) == 0 {
		return out, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find participants: %w", err)
	}
	return out, nil
}

func (s *GormStore) FilterParticipants(ctx context.Context, roomID uint, f ParticipantFilter) ([]models.Participant, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Participant
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("filter participants: %w", err)
	}
	return out, nil
}

func (s *GormStore) DeactivateParticipant(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivate participant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateMessage(ctx context.Context, m *models.Message) error {
	s.messageMu.Lock()
	defer s.messageMu.Unlock()
	err := s.serialized(ctx, lockMessages, func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *GormStore) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "get message")
	}
	return &m, nil
}

func (s *GormStore) FilterMessages(ctx context.Context, roomID uint, f MessageFilter) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if f.SinceID != nil {
		q = q.Where("id >= ?", *f.SinceID)
	}
	var out []models.Message
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("filter messages: %w", err)
	}
	return out, nil
}

func (s *GormStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, notFound(err, "get session")
	}
	return &sess, nil
}

func (s *GormStore) RevokeSessions(ctx context.Context, participantID uint) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("participant_id = ? AND revoked_at IS NULL", participantID).
		Update("revoked_at", &now).Error
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// serialized 在事务中执行 fn。postgres 下事务先取 advisory lock，使其他进程的并发写
// 也按 id 顺序提交；sqlite 本身只允许单个写者。
func (s *GormStore) serialized(ctx context.Context, key int64, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
