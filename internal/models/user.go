package models

// UserProfile представляет профиль аутентифицированного пользователя.
// Для ядра сессии важны только ID и Role, остальное передается как есть.
type UserProfile struct {
	Attributes map[string]string `json:"attributes,omitempty"` // произвольные поля профиля (имя, аватар, группа)
	ID         string            `json:"id"`                   // идентификатор пользователя на сервере
	Email      string            `json:"email"`                // email, использованный при входе
	Role       string            `json:"role"`                 // роль: student, teacher, supervisor, admin
	FullName   string            `json:"full_name,omitempty"`  // отображаемое имя
}

// IsZero сообщает, что профиль не заполнен
func (u *UserProfile) IsZero() bool {
	return u == nil || u.ID == ""
}

// Merge выполняет поверхностное слияние: непустые поля partial заменяют текущие,
// ключи Attributes добавляются или перезаписываются поштучно.
func (u UserProfile) Merge(partial UserProfile) UserProfile {
	merged := u
	if partial.ID != "" {
		merged.ID = partial.ID
	}
	if partial.Email != "" {
		merged.Email = partial.Email
	}
	if partial.Role != "" {
		merged.Role = partial.Role
	}
	if partial.FullName != "" {
		merged.FullName = partial.FullName
	}

	if len(partial.Attributes) > 0 {
		attrs := make(map[string]string, len(u.Attributes)+len(partial.Attributes))
		for k, v := range u.Attributes {
			attrs[k] = v
		}
		for k, v := range partial.Attributes {
			attrs[k] = v
		}
		merged.Attributes = attrs
	}

	return merged
}

// TokenPair пара токенов текущей сессии
type TokenPair struct {
	AccessToken  string `json:"access_token"`  // короткоживущий bearer токен (JWT)
	RefreshToken string `json:"refresh_token"` // долгоживущий токен для выпуска новых access токенов
}

// Complete сообщает, что оба токена заполнены
func (p *TokenPair) Complete() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}
