package grants

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

// Menú cerrado de duraciones (en horas). Allow-list estricta: el caller
// elige de un menú fijo, así los labels quedan exactos y no se pueden crear
// grants sin cota.
var allowedHours = map[float64]struct{}{
	0.5: {},
	1:   {},
	24:  {},
	48:  {},
	72:  {},
	168: {},
	336: {},
	720: {},
}

// Duraciones relativas que acepta el share ("7d" → 168h).
var relativeHours = map[string]float64{
	"1h":  1,
	"1d":  24,
	"7d":  168,
	"30d": 720,
}

// ComputeExpiry valida hours contra el menú y devuelve ref + hours.
func ComputeExpiry(ref time.Time, hours float64) (time.Time, error) {
	if _, ok := allowedHours[hours]; !ok {
		return time.Time{}, ErrInvalidDuration
	}
	return ref.Add(hoursToDuration(hours)), nil
}

// ParseRelative mapea un string relativo ("1h", "1d", "7d", "30d") a horas.
func ParseRelative(s string) (float64, error) {
	h, ok := relativeHours[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, ErrInvalidDuration
	}
	return h, nil
}

// Label devuelve el texto canónico que muestra el portal para cada duración
// del menú. Valores fuera del menú caen a "{n} Hours".
func Label(hours float64) string {
	switch hours {
	case 0.5:
		return "30 Minutes"
	case 1:
		return "1 Hour"
	case 24:
		return "24 Hours (1 Day)"
	case 48:
		return "48 Hours (2 Days)"
	case 72:
		return "72 Hours (3 Days)"
	case 168:
		return "1 Week"
	case 336:
		return "2 Weeks"
	case 720:
		return "30 Days"
	}
	return fmt.Sprintf("%s Hours", trimFloat(hours))
}

func hoursToDuration(hours float64) time.Duration {
	// float64(horas) → duración exacta en minutos (0.5h = 30m sin redondeo raro)
	return time.Duration(hours*60) * time.Minute
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
