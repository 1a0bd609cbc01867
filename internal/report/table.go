package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// WriteTable prints a one-line summary followed by one row per danger zone.
func WriteTable(w io.Writer, a *domain.Analysis) error {
	fmt.Fprintf(w, "analysis %s: %d of %d points analysed (stride %d), %d danger zones, ratio %.3f, quality %s\n",
		a.ID, a.PointsAnalyzed, a.PointsTotal, a.Stride, len(a.Zones), a.Report.DangerRatio, a.Report.Quality)
	if a.Report.AverageWeatherScore != nil {
		fmt.Fprintf(w, "average weather score %.1f\n", *a.Report.AverageWeatherScore)
	}
	if n := degradedPoints(a.Warnings); n > 0 {
		fmt.Fprintf(w, "%d points degraded (%d warnings)\n", n, len(a.Warnings))
	}
	if len(a.Zones) == 0 {
		_, err := fmt.Fprintln(w, "no tall buildings near the track")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POINT\tLAT\tLON\tBUILDINGS\tMAX HEIGHT\tWEATHER")
	for _, z := range a.Zones {
		weather := "-"
		if z.Weather != nil && z.Weather.Score != nil {
			weather = fmt.Sprintf("%.1f", *z.Weather.Score)
		}
		fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%d\t%.1f\t%s\n",
			z.PointIndex, z.Lat, z.Lon, len(z.Buildings), maxHeight(z.Buildings), weather)
	}
	return tw.Flush()
}

func degradedPoints(warnings []domain.Warning) int {
	seen := make(map[int]struct{}, len(warnings))
	for _, w := range warnings {
		seen[w.PointIndex] = struct{}{}
	}
	return len(seen)
}
