// Package process runs short-lived subprocesses that read their input from
// stdin and produce binary output on stdout.
//
// A run is bounded by its context: when the context ends the process group
// gets SIGINT, and if it has not exited after the grace period the process is
// killed. Stderr is forwarded line by line to a logger, optionally through a
// LogParser that maps tool-specific prefixes onto log levels.
//
//	scanner := jpegscan.NewScanner(3, 5<<20)
//	var frames [][]byte
//	res, err := process.Run(ctx, process.Command{
//		Args:  []string{"ffmpeg", "-i", "pipe:0", "-f", "image2pipe", "pipe:1"},
//		Stdin: bytes.NewReader(segment),
//		Stdout: func(chunk []byte) {
//			frames = append(frames, scanner.Feed(chunk)...)
//		},
//		Logger: logging.GetLogger("ffmpeg"),
//	})
package process
