package repository

import (
	"chatty_session_server/internal/model"

	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) FindByID(id string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("id = ?", id).First(&session).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询会话 id=%s", id)
	}
	return &session, nil
}

func (r *sessionRepository) FindByOwnerAndTenant(ownerID, tenantID string) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.Where("owner_id = ? AND tenant_id = ?", ownerID, tenantID).Find(&sessions).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询会话 owner_id=%s tenant_id=%s", ownerID, tenantID)
	}
	return sessions, nil
}

func (r *sessionRepository) FindByStatuses(statuses []model.SessionStatus) ([]model.Session, error) {
	var sessions []model.Session
	if len(statuses) == 0 {
		return sessions, nil
	}
	if err := r.db.Where("status IN ?", statuses).Order("created_at").Find(&sessions).Error; err != nil {
		return nil, wrapDBError(err, "按状态查询会话")
	}
	return sessions, nil
}

func (r *sessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return wrapDBErrorf(err, "创建会话 id=%s", session.ID)
	}
	return nil
}

func (r *sessionRepository) DeleteByOwnerAndTenant(ownerID, tenantID string) error {
	if err := r.db.Where("owner_id = ? AND tenant_id = ?", ownerID, tenantID).Delete(&model.Session{}).Error; err != nil {
		return wrapDBErrorf(err, "删除会话 owner_id=%s tenant_id=%s", ownerID, tenantID)
	}
	return nil
}

func (r *sessionRepository) ReplaceForOwnerAndTenant(session *model.Session) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		txRepo := &sessionRepository{db: tx}
		if err := txRepo.DeleteByOwnerAndTenant(session.OwnerID, session.TenantID); err != nil {
			return err
		}
		return txRepo.Create(session)
	})
}

func (r *sessionRepository) UpdateFields(id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if err := r.db.Model(&model.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return wrapDBErrorf(err, "更新会话 id=%s", id)
	}
	return nil
}
