package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"southwinds.dev/keycache"
)

func printStatus(out io.Writer, svc keycache.Service) error {
	st := svc.State()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Phase:\t%s\n", st.Phase)
	fmt.Fprintf(w, "Key Cached:\t%v\n", st.Cached)
	fmt.Fprintf(w, "Activities:\t%d\n", st.ActivityCount)

	if st.Armed {
		fmt.Fprintf(w, "Expires:\t%s (in %s)\n",
			st.Deadline.Local().Format("2006-01-02 15:04:05"),
			time.Until(st.Deadline).Round(time.Second))
	} else {
		fmt.Fprintf(w, "Expires:\tnever\n")
	}
	if st.Degraded {
		fmt.Fprintf(w, "WARNING:\texpiry alarm could not be armed\n")
	}

	fmt.Fprintf(w, "Memory Protection:\t%s\n", svc.SecureMemoryProtection())
	return w.Flush()
}
