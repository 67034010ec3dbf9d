package compliance

import (
	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/harness"
)

func runInitialization(rc *RunContext) {
	rc.run(CategoryInitialization, "initialize handshake", func(rc *RunContext) error {
		return rc.handshake()
	})

	rc.run(CategoryInitialization, "protocol version present", func(rc *RunContext) error {
		if err := rc.handshake(); err != nil {
			return err
		}
		if rc.init.ProtocolVersion == "" {
			return faults.Protocolf(harness.MethodInitialize, "initialize result has no protocolVersion")
		}
		if rc.init.ProtocolVersion != rc.cfg.ProtocolVersion {
			rc.logger.Info("server negotiated a different protocol version",
				"requested", rc.cfg.ProtocolVersion,
				"negotiated", rc.init.ProtocolVersion,
			)
		}
		return nil
	})

	rc.run(CategoryInitialization, "capability negotiation", func(rc *RunContext) error {
		if err := rc.handshake(); err != nil {
			return err
		}
		if rc.init.Capabilities == nil {
			return faults.Protocolf(harness.MethodInitialize, "initialize result has no capabilities object")
		}
		return nil
	})

	rc.run(CategoryInitialization, "double initialization rejected", func(rc *RunContext) error {
		// Only a server that accepted the first initialize can reject a second.
		if err := rc.handshake(); err != nil {
			return err
		}
		params := harness.DefaultInitializeParams()
		params.ProtocolVersion = rc.cfg.ProtocolVersion
		resp, err := rc.h.Initialize(rc.ctx, params)
		if err != nil {
			return rc.inferStartup(err)
		}
		if err := rc.checkMessage(harness.MethodInitialize, resp); err != nil {
			return err
		}
		if resp.Error == nil {
			return faults.Assertf(harness.MethodInitialize, "second initialize was accepted; expected an error")
		}
		return nil
	})
}
