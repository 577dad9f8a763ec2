package renderer

// maxJoints bounds the joint uniform array; larger skins draw unskinned.
const maxJoints = 64

const meshVertexShader = `#version 410 core

layout (location = 0) in vec3 aPosition;
layout (location = 1) in vec3 aNormal;
layout (location = 2) in vec2 aTexCoord0;
layout (location = 4) in vec4 aColor0;
layout (location = 5) in vec4 aJoints0;
layout (location = 6) in vec4 aWeights0;

uniform mat4 uViewProj;
uniform mat4 uModel;
uniform vec4 uUVTransform; // scale.xy, bias.xy

#ifdef USE_SKIN
uniform bool uSkinned;
uniform mat4 uJoints[64];
#endif

out vec3 vNormal;
out vec2 vTexCoord;
out vec4 vColor;

void main() {
	mat4 model = uModel;
#ifdef USE_SKIN
	if (uSkinned) {
		model = aWeights0.x * uJoints[int(aJoints0.x)] +
			aWeights0.y * uJoints[int(aJoints0.y)] +
			aWeights0.z * uJoints[int(aJoints0.z)] +
			aWeights0.w * uJoints[int(aJoints0.w)];
	}
#endif
	gl_Position = uViewProj * model * vec4(aPosition, 1.0);
	vNormal = mat3(model) * aNormal;
	vTexCoord = aTexCoord0 * uUVTransform.xy + uUVTransform.zw;
#ifdef USE_COLOR
	vColor = aColor0;
#else
	vColor = vec4(1.0);
#endif
}
`

const meshFragmentShader = `#version 410 core

in vec3 vNormal;
in vec2 vTexCoord;
in vec4 vColor;

uniform vec4 uBaseColor;
uniform float uAlphaCutoff;
uniform vec3 uLightDir;

#ifdef USE_ATLAS
uniform sampler2DArray uAtlas;
uniform bool uTextured;
uniform float uLayer;
#endif

out vec4 FragColor;

void main() {
	vec4 color = uBaseColor * vColor;
#ifdef USE_ATLAS
	if (uTextured) {
		color *= texture(uAtlas, vec3(vTexCoord, uLayer));
	}
#endif
	if (color.a < uAlphaCutoff) {
		discard;
	}
	float light = 0.3 + 0.7 * max(dot(normalize(vNormal), -uLightDir), 0.0);
	FragColor = vec4(color.rgb * light, color.a);
}
`

const lineVertexShader = `#version 410 core

layout (location = 0) in vec3 aPosition;

uniform mat4 uMVP;

void main() {
	gl_Position = uMVP * vec4(aPosition, 1.0);
}
`

const lineFragmentShader = `#version 410 core

uniform vec4 uColor;

out vec4 FragColor;

void main() {
	FragColor = uColor;
}
`
