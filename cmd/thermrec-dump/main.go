// thermrec-dump prints, exports or watches frame recordings.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/interrupt"
	"github.com/pkg/errors"

	"thermrec-go/internal/output"
	"thermrec-go/internal/processing"
)

func dump(w io.Writer, path string, limit int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fr, err := output.NewFrameReader(bufio.NewReader(f))
	if err != nil {
		return errors.Wrap(err, path)
	}
	fmt.Fprintf(w, "%s: version %d\n", path, fr.Version())
	for count := 0; limit <= 0 || count < limit; count++ {
		rec, err := fr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "record %d at offset %d", count, fr.Offset())
		}
		st := processing.Summarize(rec.Values)
		ts := time.Unix(0, int64(rec.Timestamp*1e9)).UTC()
		fmt.Fprintf(w, "frame %d  %s  shape %v  n=%d", rec.Index, ts.Format(time.RFC3339Nano), rec.Shape, st.Count)
		if st.Defined {
			fmt.Fprintf(w, "  min %.2f  max %.2f  mean %.2f", st.Min, st.Max, st.Mean)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func export(path string) error {
	dir, records, err := output.ConvertFile(path)
	if err != nil {
		return err
	}
	log.Printf("exported %d frames to %s", len(records), dir)
	return nil
}

// watch exports every recording in dir once it has not been written to for
// settle.
func watch(dir string, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err = watcher.Add(dir); err != nil {
		return err
	}
	log.Printf("watching %s", dir)
	pending := map[string]time.Time{}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-interrupt.Channel:
			return nil
		case err = <-watcher.Errors:
			return err
		case ev := <-watcher.Events:
			if !strings.HasSuffix(ev.Name, ".bin") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[ev.Name] = time.Now()
			} else if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, ev.Name)
			}
		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, name)
				if err := export(name); err != nil {
					log.Printf("%s: %v", name, err)
				}
			}
		}
	}
}

func mainImpl() error {
	var (
		limit   = flag.Int("limit", 0, "Number of records to dump; 0 dumps all")
		doExp   = flag.Bool("export", false, "Write a text export next to each file instead of dumping")
		watchIn = flag.String("watch", "", "Directory to watch; finished recordings are exported")
		settle  = flag.Duration("settle", 2*time.Second, "Quiet time before a watched recording is exported")
	)
	flag.Parse()

	if *watchIn != "" {
		if *settle <= 0 {
			return errors.New("-settle must be positive")
		}
		interrupt.HandleCtrlC()
		return watch(*watchIn, *settle)
	}
	if flag.NArg() == 0 {
		return errors.New("specify at least one recording or -watch")
	}
	for _, path := range flag.Args() {
		var err error
		if *doExp {
			err = export(path)
		} else {
			err = dump(os.Stdout, path, *limit)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	log.SetFlags(log.Lmicroseconds)
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s.\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}
