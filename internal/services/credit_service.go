// internal/services/credit_service.go
package services

import (
	"fmt"
	"sync"

	"github.com/Corphon/CineGenStudio/internal/models"
	"github.com/Corphon/CineGenStudio/internal/storage"
)

const creditsFile = "credits.json"

// CreditService 管理账户积分
// 扣减是饱和的：余额不足以覆盖本次消耗时扣到 0，绝不为负
type CreditService struct {
	storage *storage.FileStorage

	mu    sync.Mutex
	state models.CreditState
}

// NewCreditService 创建积分服务，优先从持久化文件恢复状态
func NewCreditService(fileStorage *storage.FileStorage, defaultCredits int) (*CreditService, error) {
	if fileStorage == nil {
		return nil, fmt.Errorf("存储服务未初始化")
	}
	if defaultCredits < 0 {
		defaultCredits = 0
	}

	s := &CreditService{
		storage: fileStorage,
		state: models.CreditState{
			Remaining: defaultCredits,
		},
	}

	if fileStorage.FileExists("", creditsFile) {
		var saved models.CreditState
		if err := fileStorage.LoadJSONFile("", creditsFile, &saved); err == nil {
			if saved.Remaining < 0 {
				saved.Remaining = 0
			}
			s.state = saved
			return s, nil
		}
		// 文件损坏时回退到默认值并重写
	}

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("初始化积分数据失败: %w", err)
	}

	return s, nil
}

// State 返回当前积分状态的副本
func (s *CreditService) State() models.CreditState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanAfford 判断当前余额能否覆盖给定消耗
func (s *CreditService) CanAfford(amount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CanAfford(amount)
}

// Debit 扣减积分并持久化，返回扣减后的状态
// 无限模式下余额不变；负数消耗视为 0
func (s *CreditService) Debit(amount int) (models.CreditState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		amount = 0
	}

	if !s.state.Infinite {
		s.state.Remaining -= amount
		if s.state.Remaining < 0 {
			s.state.Remaining = 0
		}
	}

	if err := s.persist(); err != nil {
		return s.state, fmt.Errorf("保存积分数据失败: %w", err)
	}

	return s.state, nil
}

// SetInfinite 切换到无限积分模式
func (s *CreditService) SetInfinite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Infinite = true
	return s.persist()
}

// SetFinite 切换到有限模式并重置余额
func (s *CreditService) SetFinite(amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		amount = 0
	}

	s.state.Infinite = false
	s.state.Remaining = amount
	return s.persist()
}

// EnsureFinite 退出无限模式但保留现有余额
func (s *CreditService) EnsureFinite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Infinite {
		return nil
	}

	s.state.Infinite = false
	return s.persist()
}

// persist 保存当前状态，调用方需持有锁
func (s *CreditService) persist() error {
	return s.storage.SaveJSONFile("", creditsFile, s.state)
}
