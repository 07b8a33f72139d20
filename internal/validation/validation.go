// Package validation содержит функции проверки пользовательского ввода.
package validation

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// IsValidEmail проверяет адрес электронной почты.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

// IsValidPhone проверяет номер телефона: необязательный ведущий "+", затем от 7 до 15 цифр.
// Пробелы, дефисы и скобки допускаются как разделители.
func IsValidPhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false
	}

	digits := 0
	for i, ch := range phone {
		switch {
		case unicode.IsDigit(ch):
			digits++
		case ch == '+' && i == 0:
		case ch == ' ' || ch == '-' || ch == '(' || ch == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

// IsValidBirthDate проверяет дату рождения в формате YYYY-MM-DD, не позже now.
func IsValidBirthDate(date string, now time.Time) bool {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	if err != nil {
		return false
	}
	return !d.After(now)
}

// IsValidDate проверяет дату в формате YYYY-MM-DD.
func IsValidDate(date string) bool {
	_, err := time.Parse(time.DateOnly, strings.TrimSpace(date))
	return err == nil
}

// IsValidUPIID проверяет идентификатор UPI вида name@handle.
func IsValidUPIID(id string) bool {
	id = strings.TrimSpace(id)
	at := strings.IndexByte(id, '@')
	if at <= 0 || at != strings.LastIndexByte(id, '@') || at == len(id)-1 {
		return false
	}

	for i, ch := range id {
		if i == at {
			continue
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '.' && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}
