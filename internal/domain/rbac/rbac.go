// Пакет rbac — определение эффективной роли пользователя.
// Двухуровневая авторизация: роль из групп IdP + локальная выдача (role_grants).
// Итоговая роль = max(роль из IdP, локальная выдача). Роль можно только повысить.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleReadonly = "readonly"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleStaff:    2,
	RoleAdmin:    3,
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, grant).
// Если grant == nil, возвращает idpRole.
func EffectiveRole(idpRole string, grant *string) string {
	if grant == nil {
		return idpRole
	}
	return maxRole(idpRole, *grant)
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// GroupMapping — соответствие групп IdP ролям.
type GroupMapping struct {
	Admin    []string
	Staff    []string
	Readonly []string
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Возвращает максимальную роль из всех совпадений или пустую строку.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	sets := []struct {
		role  string
		items map[string]bool
	}{
		{RoleAdmin, toSet(m.Admin)},
		{RoleStaff, toSet(m.Staff)},
		{RoleReadonly, toSet(m.Readonly)},
	}

	var roles []string
	for _, g := range groups {
		for _, s := range sets {
			if s.items[g] {
				roles = append(roles, s.role)
			}
		}
	}

	return HighestRole(roles)
}

// AtLeast — роль role не ниже required.
// Неизвестная или пустая роль не удовлетворяет ничему.
func AtLeast(role, required string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[required]
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
