/*
Package log provides structured logging for the hub using zerolog.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

JSONOutput picks JSON (production) vs. a human-readable console writer
(development); Output defaults to os.Stdout.

# Component loggers

Each worker and HTTP handler gets its own child logger via WithComponent,
with WithTopic / WithCallback / WithEventKey layering in request-specific
fields:

	pullLog := log.WithComponent("pull").With().Str("topic", topic).Logger()
	pullLog.Error().Err(err).Msg("feed fetch failed")

# Do / don't

  - Do use .Err(err) for errors, typed fields (.Str, .Int) for everything
    else.
  - Don't log verify tokens or admin tokens.
  - Don't log in a worker's per-item loop at Info level; Debug is fine.
*/
package log
