// Package assembler renders a session's audio and still image into a finished video with ffmpeg.
//
// # Pipeline
//
//  1. Audio parts are concatenated losslessly with the concat demuxer; a single part is used as is.
//  2. The consolidated audio is probed for its duration; zero or unreadable is [shared.ErrEmptyAudio].
//  3. The still is letterboxed onto a 1280x720 canvas and rendered into a silent base loop of
//     min(ceil(duration)+1, 60) seconds, with the optional overlay and, on the free plan, the
//     watermark bar composited by the filter graph.
//  4. The base loop is repeated ceil(duration/base)+1 times and muxed against the audio with
//     stream copy, trimmed to the shorter stream. The mux is retried per the configured policy.
//
// Every failure after retries is wrapped in [shared.ErrAssembly].
package assembler
