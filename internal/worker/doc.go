// Package worker runs the Job Queue consumer loop: pull one job, run it in a
// one-shot container, classify the result, optionally analyze it, copy
// artifacts, sample metrics, and report the outcome back to the Producer
// (spec §4.2). It depends only on narrow local interfaces over
// internal/queue, internal/containerengine, internal/artifacts,
// internal/metricscache and internal/aianalyzer so the full 13-step
// algorithm can be exercised with hand-written fakes.
package worker
