package format

import (
	"fmt"
	"strings"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/util"
)

var kindBadges = map[string]string{
	models.KindStrongBuy:  "\U0001F7E2\U0001F7E2 STRONG BUY",
	models.KindBuy:        "\U0001F7E2 BUY",
	models.KindStrongSell: "\U0001F534\U0001F534 STRONG SELL",
	models.KindSell:       "\U0001F534 SELL",
}

// Message renders a signal into the outbound HTML text. The layout is
// stable so recipients can parse it with simple tooling: badge line,
// then one field per line.
func Message(s *models.Signal) string {
	badge, ok := kindBadges[strings.ToUpper(s.Kind)]
	if !ok {
		badge = strings.ToUpper(s.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", badge, strings.ToUpper(s.Symbol))
	fmt.Fprintf(&b, "Timeframe: <b>%s</b>\n", s.Timeframe)
	fmt.Fprintf(&b, "Price: <b>%s</b>\n", util.FormatPrice(s.Price))

	if v, ok := s.IndicatorData.Value("RSI"); ok {
		fmt.Fprintf(&b, "RSI: <b>%.1f</b>\n", v)
	}
	if s.Strength != "" {
		fmt.Fprintf(&b, "Strength: %s\n", strings.ToUpper(s.Strength))
	}
	if s.Message != "" {
		b.WriteString(s.Message)
		b.WriteByte('\n')
	}
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Time: %s", s.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return strings.TrimRight(b.String(), "\n")
}
