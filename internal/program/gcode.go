package program

import (
	"fmt"
	"strings"
)

// ExportGCode 把程序导出为 FluidNC 可执行的 G 代码
// 基准点处暂停人工确认，检测点处等待稳定后触发相机
func ExportGCode(p *Program) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("%%")
	line("(Program: %s)", p.Name)
	line("(Generated by AOI Edge)")
	line("G21 G90 G17 (mm, abs, XY plane)")
	line("G54 (Use Work Coordinate System)")
	line("")

	for _, ref := range p.Refs {
		line("(REF %d)", ref.ID)
		line("G0 X%.3f Y%.3f", ref.X, ref.Y)
		line("M0 (Pause for verification)")
		line("")
	}

	line("(INSPECTION START)")
	for _, pt := range p.Points {
		line("(POINT %d)", pt.ID)
		line("G0 X%.3f Y%.3f", pt.X, pt.Y)
		line("G4 P0.5 (Wait for settling)")
		line("M62 P1 (Trigger Camera)")
		line("G4 P0.1")
		line("M63 P1")
		line("")
	}

	line("M30 (End Program)")
	b.WriteString("%")
	return b.String()
}
