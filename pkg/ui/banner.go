package ui

import "strings"

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	reaperRed   = "\033[38;5;160m"
	emberOrange = "\033[38;5;202m"
	honeyOrange = "\033[38;5;214m"
	ashGray     = "\033[38;5;246m"
	mint        = "\033[38;5;121m"
	cobalt      = "\033[38;5;33m"
	deepIndigo  = "\033[38;5;61m"
	fuchsia     = "\033[38;5;177m"
)

var (
	letterT = []string{"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "}
	letterA = []string{" █████╗ ", "██╔══██╗", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"}
	letterB = []string{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔══██╗", "██████╔╝", "╚═════╝ "}
	letterR = []string{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔══██╗", "██║  ██║", "╚═╝  ╚═╝"}
	letterE = []string{"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "███████╗", "╚══════╝"}
	letterP = []string{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "}
)

// Banner renders a colored tabreaper wordmark. "tab" is drawn in cool tones
// and "reaper" in a red-to-orange gradient.
func Banner() string {
	var b strings.Builder

	letters := [][]string{letterT, letterA, letterB, letterR, letterE, letterA, letterP, letterE, letterR}
	gradient := []string{mint, cobalt, deepIndigo, reaperRed, reaperRed, emberOrange, emberOrange, honeyOrange, honeyOrange}
	rows := make([]string, len(letterT))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + reaperRed + "tabreaper" + reset + ashGray + "  •  " + reset + fuchsia + "renderer memory reaper" + reset + "\n\n")

	return b.String()
}
