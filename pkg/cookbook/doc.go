// Package cookbook vendors, packages and releases the configuration cookbooks
// a stack provisions its instances with.
//
// A release runs berks in cookbook_dir, zips vendor/ into
// <cookbook_name>-<cookbook_version>.zip, uploads the zip to
// <cookbook_store>/<cookbook_path>/ through an artifact store and points the
// stack at the uploaded URL. Stack updates ask for confirmation first; a
// declined confirmation is an engine declined error.
package cookbook
