package txbuilder

// Usage example (not compiled):
//
//  pcfg, err := txbuilder.PipelineConfigFromConfig(cfg, chainID)
//  if err != nil { ... }
//  p, err := txbuilder.NewPipeline(client, signer, pcfg, logger, observer)
//  if err != nil { ... }
//
//  req, err := txbuilder.RequestFromJob(job)
//  out, err := p.Submit(ctx, req) // fees -> gas -> nonce -> assemble -> sign -> send -> receipt
//  if txbuilder.KindOf(err) == txbuilder.SimulationRejected { ... }
//
