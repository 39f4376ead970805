package images

import (
	"fmt"
	"strings"
)

// %[1]s is the root path, %[2]s the tag.
const openAPITemplate = `%[1]s:
  post:
    tags:
      - %[2]s
    summary: Upload image
    description: |
      Stores a PNG or JPEG image of at most 5000000 bytes. The type is detected
      from the content; the client filename and content type are ignored and
      the server assigns a random identifier.
    requestBody:
      required: true
      content:
        multipart/form-data:
          schema:
            type: object
            properties:
              file:
                type: string
                format: binary
                description: The image file to upload
            required:
              - file
    responses:
      '201':
        description: Image stored
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/ImageMetadata'
      '400':
        $ref: '#/components/responses/Problem'
      '413':
        $ref: '#/components/responses/Problem'
      '415':
        $ref: '#/components/responses/Problem'
      '500':
        $ref: '#/components/responses/Problem'
  get:
    tags:
      - %[2]s
    summary: List images
    description: Retrieves metadata for all stored images, oldest first
    responses:
      '200':
        description: List of images retrieved successfully
        content:
          application/json:
            schema:
              type: object
              properties:
                images:
                  type: array
                  items:
                    $ref: '#/components/schemas/ImageMetadata'
      '500':
        $ref: '#/components/responses/Problem'
%[1]s/{imageId}:
  parameters:
    - name: imageId
      in: path
      required: true
      schema:
        type: string
      description: The identifier returned on upload
  get:
    tags:
      - %[2]s
    summary: Download image
    responses:
      '200':
        description: Image content
        content:
          image/png:
            schema:
              type: string
              format: binary
          image/jpeg:
            schema:
              type: string
              format: binary
      '404':
        $ref: '#/components/responses/Problem'
      '500':
        $ref: '#/components/responses/Problem'
  delete:
    tags:
      - %[2]s
    summary: Delete image
    description: Removes an image by its ID
    responses:
      '204':
        description: Image deleted successfully
      '404':
        $ref: '#/components/responses/Problem'
      '500':
        $ref: '#/components/responses/Problem'`

const openAPIComponents = `schemas:
  ImageMetadata:
    type: object
    properties:
      image_id:
        type: string
        description: Unique identifier for the image
      filename:
        type: string
        description: Name of the stored file
      content_type:
        type: string
        enum: [image/png, image/jpeg]
      size:
        type: integer
        format: int64
        description: Size of the image in bytes
      sha256:
        type: string
        description: SHA256 hash of the image
      uploaded_at:
        type: string
        format: date-time
        description: Timestamp when the image was uploaded
    required:
      - image_id
      - filename
      - content_type
      - size
      - sha256
      - uploaded_at
  Problem:
    type: object
    properties:
      type:
        type: string
      title:
        type: string
      status:
        type: integer
      detail:
        type: string
      correlation_id:
        type: string
      kind:
        type: string
        enum: [too_large, unsupported_type, root_not_found, path_escape, symlink_ancestor, write_failed, not_found, bad_request]
responses:
  Problem:
    description: Error described as an RFC 7807 problem document
    content:
      application/problem+json:
        schema:
          $ref: '#/components/schemas/Problem'`

func GetOpenAPISpec(rootPath, tag string) string {
	if rootPath == "" || tag == "" {
		return ""
	}

	// Ensure rootPath doesn't have trailing slash
	rootPath = strings.TrimSuffix(rootPath, "/")

	return fmt.Sprintf(openAPITemplate, rootPath, tag)
}

// GetOpenAPIComponents returns the components referenced by GetOpenAPISpec.
func GetOpenAPIComponents() string {
	return openAPIComponents
}
