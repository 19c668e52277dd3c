package services

import (
	"errors"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService 管理API认证服务
type AuthService struct {
	db *gorm.DB
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{db: db}
}

// Login 校验用户名密码，返回JWT令牌
func (s *AuthService) Login(username, password string) (string, *models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errors.New("用户名或密码错误")
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, errors.New("用户名或密码错误")
	}

	token, err := jwt.GetJWTManager().GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	if err := s.db.Model(&user).Update("last_login_at", now).Error; err == nil {
		user.LastLoginAt = &now
	}

	return token, &user, nil
}

// EnsureUser 创建用户（已存在则跳过），用于种子数据
func (s *AuthService) EnsureUser(username, password string, isAdmin bool) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.db.Create(&models.User{
		Username: username,
		Password: string(hash),
		IsAdmin:  isAdmin,
	}).Error
}
