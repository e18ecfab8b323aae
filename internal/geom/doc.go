// Package geom owns the geometric primitives shared by the verification
// stages.
//
// Responsibilities: generic points with an attribute channel, normals,
// rigid 4x4 transforms, support planes, voxel downsampling and a hashed
// spatial index for radius queries.
// Key types: Point, Cloud, Normal, Transform, Plane, SpatialIndex.
//
// Dependency rule: geom depends on nothing else in this module.
package geom
