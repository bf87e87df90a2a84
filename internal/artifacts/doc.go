// Package artifacts locates and, optionally, offloads the files a job
// container produces (native test reports, Allure bundles) after the Worker
// has copied them out of the container filesystem.
//
// The default backend is the local filesystem, laid out as:
//
//	{reportsRoot}/{organizationId}/{taskId}/{alias}/...
//
// The local filesystem store is always used. Setting
// RUNBOX_ARTIFACTS_S3_BUCKET additionally enables the S3-compatible backend as
// a mirror: every file of a copied alias directory is uploaded as its own
// object under artifacts/{organizationId}/{taskId}/{alias}/..., and the
// backend can mint presigned URLs for single files, for deployments where the
// reports filesystem isn't safe to serve directly from the Producer process.
package artifacts
